package pipeline

import (
	"context"
	"testing"
)

type nopAgent struct{ name string }

func (a nopAgent) Name() string { return a.name }

func (a nopAgent) Process(context.Context, map[string]any) (map[string]any, error) {
	return nil, nil
}

func valid() *Pipeline {
	return &Pipeline{
		Name: "content",
		Steps: []StepDef{
			{Name: "draft", Agent: nopAgent{"draft"}},
			{Name: "annotate", FanOut: []Agent{nopAgent{"a"}, nopAgent{"b"}}},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(valid()); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, ok := reg.Get("content")
	if !ok || p.Name != "content" {
		t.Fatalf("get = %v %v", p, ok)
	}
	if _, ok := reg.Get("ghost"); ok {
		t.Fatal("got unregistered pipeline")
	}
	names := p.StepNames()
	if len(names) != 2 || names[0] != "draft" || names[1] != "annotate" {
		t.Fatalf("step names = %v", names)
	}
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	cases := []struct {
		name string
		p    *Pipeline
	}{
		{"nil", nil},
		{"no name", &Pipeline{Steps: []StepDef{{Name: "x", Agent: nopAgent{"x"}}}}},
		{"no steps", &Pipeline{Name: "p"}},
		{"unnamed step", &Pipeline{Name: "p", Steps: []StepDef{{Agent: nopAgent{"x"}}}}},
		{"duplicate step", &Pipeline{Name: "p", Steps: []StepDef{
			{Name: "x", Agent: nopAgent{"x"}},
			{Name: "x", Agent: nopAgent{"x"}},
		}}},
		{"agentless step", &Pipeline{Name: "p", Steps: []StepDef{{Name: "x"}}}},
		{"agent and fanout", &Pipeline{Name: "p", Steps: []StepDef{
			{Name: "x", Agent: nopAgent{"x"}, FanOut: []Agent{nopAgent{"y"}}},
		}}},
	}
	for _, tc := range cases {
		if err := NewRegistry().Register(tc.p); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(valid()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(valid()); err == nil {
		t.Fatal("duplicate pipeline name accepted")
	}
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"zeta", "alpha"} {
		p := valid()
		p.Name = n
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("names = %v", names)
	}
}
