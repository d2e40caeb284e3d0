package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// HTTPDeliverer POSTs task payloads to their endpoint with a signed queue
// token. Status mapping drives the redelivery policy:
//   - 2xx: acknowledged
//   - 404/410: dropped (job gone or already terminal)
//   - 409: lock conflict, retried later
//   - anything else: retried later
type HTTPDeliverer struct {
	log    *logger.Logger
	client *http.Client
	secret string
}

func NewHTTPDeliverer(baseLog *logger.Logger, secret string) *HTTPDeliverer {
	return &HTTPDeliverer{
		log:    baseLog.With("component", "QueueDeliverer"),
		client: &http.Client{Timeout: 10 * time.Minute},
		secret: secret,
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, task Task) error {
	body, err := json.Marshal(task.Payload)
	if err != nil {
		return ErrDrop
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ErrDrop
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := SignToken(d.secret)
	if err != nil {
		return fmt.Errorf("sign queue token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrDrop
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("step endpoint busy (409)")
	default:
		return fmt.Errorf("step endpoint returned %d", resp.StatusCode)
	}
}
