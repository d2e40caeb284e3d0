package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/inkwell-ai/inkwell-backend/internal/domain"
	"github.com/inkwell-ai/inkwell-backend/internal/pipeline"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

func testStore(tb testing.TB) store.JobStore {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return store.New(db, logger.NewNop(), time.Minute)
}

// recordingChainer collects scheduled steps so tests can drive the chain by
// hand, one delivery at a time.
type recordingChainer struct {
	mu      sync.Mutex
	pending []scheduled
}

type scheduled struct {
	jobID     uuid.UUID
	stepIndex int
}

func (c *recordingChainer) ScheduleStep(_ context.Context, jobID uuid.UUID, stepIndex int, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, scheduled{jobID: jobID, stepIndex: stepIndex})
	return nil
}

func (c *recordingChainer) next() (scheduled, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return scheduled{}, false
	}
	s := c.pending[0]
	c.pending = c.pending[1:]
	return s, true
}

type fakeAgent struct {
	name   string
	update map[string]any
	err    error
}

func (a *fakeAgent) Name() string { return a.name }

func (a *fakeAgent) Process(_ context.Context, _ map[string]any) (map[string]any, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.update, nil
}

type fakeFinalizer struct {
	calls int
	err   error
}

func (f *fakeFinalizer) Finalize(_ context.Context, jobContext map[string]any) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	out := make(map[string]any, len(jobContext)+1)
	for k, v := range jobContext {
		out[k] = v
	}
	out["finalized"] = true
	return out, nil
}

func testRegistry(tb testing.TB, p *pipeline.Pipeline) *pipeline.Registry {
	tb.Helper()
	reg := pipeline.NewRegistry()
	if err := reg.Register(p); err != nil {
		tb.Fatalf("register: %v", err)
	}
	return reg
}

// drain delivers every scheduled step until the chain goes quiet.
func drain(tb testing.TB, d *Dispatcher, c *recordingChainer) {
	tb.Helper()
	for {
		s, ok := c.next()
		if !ok {
			return
		}
		if err := d.RunStep(context.Background(), s.jobID, s.stepIndex); err != nil {
			tb.Fatalf("run step %d: %v", s.stepIndex, err)
		}
	}
}

func threeStepPipeline(fin pipeline.Finalizer) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name: "content",
		Steps: []pipeline.StepDef{
			{Name: "alpha", Agent: &fakeAgent{name: "alpha", update: map[string]any{"alpha": "a"}}},
			{Name: "beta", Agent: &fakeAgent{name: "beta", update: map[string]any{"beta": "b"}}},
			{Name: "gamma", Agent: &fakeAgent{name: "gamma", update: map[string]any{"gamma": "c"}}},
		},
		Finalizer: fin,
	}
}

func TestRunStepChainsToCompletion(t *testing.T) {
	st := testStore(t)
	fin := &fakeFinalizer{}
	reg := testRegistry(t, threeStepPipeline(fin))
	chainer := &recordingChainer{}
	d := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)

	job, err := st.CreateJob(context.Background(), "content",
		[]string{"alpha", "beta", "gamma"}, map[string]any{"topic": "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.RunStep(context.Background(), job.ID, 0); err != nil {
		t.Fatalf("run step 0: %v", err)
	}
	drain(t, d, chainer)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.LockOwner != "" {
		t.Fatalf("lock not released: %q", got.LockOwner)
	}
	if fin.calls != 1 {
		t.Fatalf("finalizer calls = %d, want 1", fin.calls)
	}

	steps, _ := got.DecodeSteps()
	for i, rec := range steps {
		if rec.Status != domain.StepCompleted {
			t.Fatalf("step %d = %+v, want completed", i, rec)
		}
		if rec.StartedAt == nil || rec.CompletedAt == nil || rec.DurationMS == nil {
			t.Fatalf("step %d timing missing: %+v", i, rec)
		}
	}

	var result map[string]any
	if err := decode(got.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	for _, key := range []string{"topic", "alpha", "beta", "gamma", "finalized"} {
		if _, ok := result[key]; !ok {
			t.Fatalf("result missing %q: %v", key, result)
		}
	}
}

func TestRunStepFanOutMergesDisjointUpdates(t *testing.T) {
	st := testStore(t)
	p := &pipeline.Pipeline{
		Name: "content",
		Steps: []pipeline.StepDef{
			{Name: "annotate", FanOut: []pipeline.Agent{
				&fakeAgent{name: "left", update: map[string]any{"left": 1}},
				&fakeAgent{name: "right", update: map[string]any{"right": 2}},
			}},
		},
	}
	reg := testRegistry(t, p)
	chainer := &recordingChainer{}
	d := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)

	job, _ := st.CreateJob(context.Background(), "content", []string{"annotate"}, nil)
	if err := d.RunStep(context.Background(), job.ID, 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != domain.JobCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	var result map[string]any
	_ = decode(got.Result, &result)
	if result["left"] == nil || result["right"] == nil {
		t.Fatalf("fan-out updates not merged: %v", result)
	}
}

func TestRunStepFanOutKeyCollisionFailsJob(t *testing.T) {
	st := testStore(t)
	p := &pipeline.Pipeline{
		Name: "content",
		Steps: []pipeline.StepDef{
			{Name: "annotate", FanOut: []pipeline.Agent{
				&fakeAgent{name: "left", update: map[string]any{"shared": 1}},
				&fakeAgent{name: "right", update: map[string]any{"shared": 2}},
			}},
		},
	}
	reg := testRegistry(t, p)
	d := New(st, reg, &recordingChainer{}, nil, logger.NewNop(), time.Minute)

	job, _ := st.CreateJob(context.Background(), "content", []string{"annotate"}, nil)
	if err := d.RunStep(context.Background(), job.ID, 0); err == nil {
		t.Fatal("colliding fan-out writes did not fail the step")
	}
	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestRunStepRecordsFailure(t *testing.T) {
	st := testStore(t)
	p := &pipeline.Pipeline{
		Name: "content",
		Steps: []pipeline.StepDef{
			{Name: "alpha", Agent: &fakeAgent{name: "alpha", update: map[string]any{"alpha": "a"}}},
			{Name: "beta", Agent: &fakeAgent{name: "beta", err: errors.New("model refused")}},
		},
	}
	reg := testRegistry(t, p)
	chainer := &recordingChainer{}
	d := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)

	job, _ := st.CreateJob(context.Background(), "content", []string{"alpha", "beta"}, nil)
	if err := d.RunStep(context.Background(), job.ID, 0); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	s, ok := chainer.next()
	if !ok || s.stepIndex != 1 {
		t.Fatalf("step 1 not scheduled: %+v %v", s, ok)
	}
	err := d.RunStep(context.Background(), job.ID, 1)
	if err == nil {
		t.Fatal("failing step returned nil")
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.LockOwner != "" {
		t.Fatalf("lock not released on failure: %q", got.LockOwner)
	}
	jobErr, _ := got.DecodeError()
	if jobErr == nil || jobErr.Step != "beta" || jobErr.StepIndex != 1 {
		t.Fatalf("error = %+v", jobErr)
	}
}

func TestRunStepRetryResumesFromFailedStep(t *testing.T) {
	st := testStore(t)
	flaky := &fakeAgent{name: "beta", err: errors.New("transient")}
	p := &pipeline.Pipeline{
		Name: "content",
		Steps: []pipeline.StepDef{
			{Name: "alpha", Agent: &fakeAgent{name: "alpha", update: map[string]any{"alpha": "a"}}},
			{Name: "beta", Agent: flaky},
		},
	}
	reg := testRegistry(t, p)
	chainer := &recordingChainer{}
	d := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	job, _ := st.CreateJob(ctx, "content", []string{"alpha", "beta"}, nil)
	if err := d.RunStep(ctx, job.ID, 0); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	chainer.next()
	if err := d.RunStep(ctx, job.ID, 1); err == nil {
		t.Fatal("want failure")
	}

	// The agent recovers; retry re-enters at the failed step and the earlier
	// step's context survives.
	flaky.err = nil
	flaky.update = map[string]any{"beta": "b"}
	if err := st.ResetSteps(ctx, job.ID, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := d.RunStep(ctx, job.ID, 1); err != nil {
		t.Fatalf("retried step: %v", err)
	}

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	var result map[string]any
	_ = decode(got.Result, &result)
	if result["alpha"] != "a" || result["beta"] != "b" {
		t.Fatalf("result = %v", result)
	}
}

func TestRunStepTerminalJobIsInvalidState(t *testing.T) {
	st := testStore(t)
	reg := testRegistry(t, threeStepPipeline(nil))
	chainer := &recordingChainer{}
	d := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	job, _ := st.CreateJob(ctx, "content", []string{"alpha", "beta", "gamma"}, nil)
	if err := d.RunStep(ctx, job.ID, 0); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	drain(t, d, chainer)

	err := d.RunStep(ctx, job.ID, 0)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRunStepDuplicateDeliveryIsInvalidState(t *testing.T) {
	st := testStore(t)
	reg := testRegistry(t, threeStepPipeline(nil))
	chainer := &recordingChainer{}
	d := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	job, _ := st.CreateJob(ctx, "content", []string{"alpha", "beta", "gamma"}, nil)
	if err := d.RunStep(ctx, job.ID, 0); err != nil {
		t.Fatalf("step 0: %v", err)
	}

	// The job is still running, but step 0 already committed; a redelivered
	// message must not re-execute it.
	err := d.RunStep(ctx, job.ID, 0)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != domain.JobRunning {
		t.Fatalf("status = %s, want still running", got.Status)
	}
}

func TestRunStepLockConflict(t *testing.T) {
	st := testStore(t)
	reg := testRegistry(t, threeStepPipeline(nil))
	d := New(st, reg, &recordingChainer{}, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	job, _ := st.CreateJob(ctx, "content", []string{"alpha", "beta", "gamma"}, nil)
	if ok, _ := st.AcquireLock(ctx, job.ID, "other-worker"); !ok {
		t.Fatal("setup acquire failed")
	}
	if err := d.RunStep(ctx, job.ID, 0); !errors.Is(err, ErrLockConflict) {
		t.Fatalf("err = %v, want ErrLockConflict", err)
	}
}

func TestRunStepUnknownJob(t *testing.T) {
	st := testStore(t)
	reg := testRegistry(t, threeStepPipeline(nil))
	d := New(st, reg, &recordingChainer{}, nil, logger.NewNop(), time.Minute)

	if err := d.RunStep(context.Background(), uuid.New(), 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}

func TestRunStepUnknownPipelineFailsJob(t *testing.T) {
	st := testStore(t)
	reg := pipeline.NewRegistry()
	d := New(st, reg, &recordingChainer{}, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	job, _ := st.CreateJob(ctx, "ghost", []string{"alpha"}, nil)
	if err := d.RunStep(ctx, job.ID, 0); err == nil {
		t.Fatal("unknown pipeline accepted")
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func decode(raw []byte, out *map[string]any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, out)
}

// failingChainer refuses every enqueue, as a queue outage would.
type failingChainer struct{}

func (failingChainer) ScheduleStep(context.Context, uuid.UUID, int, time.Duration) error {
	return errors.New("connection refused")
}

func TestRunStepScheduleFailureFailsJob(t *testing.T) {
	st := testStore(t)
	reg := testRegistry(t, threeStepPipeline(nil))
	d := New(st, reg, failingChainer{}, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	job, _ := st.CreateJob(ctx, "content", []string{"alpha", "beta", "gamma"}, nil)
	if err := d.RunStep(ctx, job.ID, 0); err == nil {
		t.Fatal("schedule failure not surfaced")
	}

	// The step committed but its successor was never enqueued. The job must
	// land in failed, not sit running forever with no task pending.
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.LockOwner != "" {
		t.Fatalf("lock not released: %q", got.LockOwner)
	}
	jobErr, _ := got.DecodeError()
	if jobErr == nil || jobErr.Step != "schedule" || jobErr.StepIndex != 1 {
		t.Fatalf("error = %+v, want schedule failure at step 1", jobErr)
	}
	steps, _ := got.DecodeSteps()
	if steps[0].Status != domain.StepCompleted {
		t.Fatalf("step 0 = %+v, want completed work preserved", steps[0])
	}

	// Retry re-enters at the unscheduled step once the queue is back.
	chainer := &recordingChainer{}
	d2 := New(st, reg, chainer, nil, logger.NewNop(), time.Minute)
	if err := st.ResetSteps(ctx, job.ID, jobErr.StepIndex); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := d2.RunStep(ctx, job.ID, jobErr.StepIndex); err != nil {
		t.Fatalf("run step %d: %v", jobErr.StepIndex, err)
	}
	drain(t, d2, chainer)
	got, _ = st.GetJob(ctx, job.ID)
	if got.Status != domain.JobCompleted {
		t.Fatalf("status after retry = %s, want completed", got.Status)
	}
}
