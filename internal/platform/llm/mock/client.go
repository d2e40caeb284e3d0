package mock

import (
	"context"
	"fmt"
	"sync"
)

// Client is a scripted completion client for tests. Responses are returned in
// order; when the script is exhausted the last entry repeats. A nil script
// echoes the user prompt.
type Client struct {
	mu        sync.Mutex
	script    []string
	errScript []error
	calls     int
	prompts   []string
}

func New(script ...string) *Client {
	return &Client{script: script}
}

// FailWith makes the next len(errs) calls return the given errors before the
// scripted responses resume.
func (c *Client) FailWith(errs ...error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errScript = append(c.errScript, errs...)
	return c
}

func (c *Client) Complete(_ context.Context, system string, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, system+"\n"+user)
	if len(c.errScript) > 0 {
		err := c.errScript[0]
		c.errScript = c.errScript[1:]
		return "", err
	}
	if len(c.script) == 0 {
		return fmt.Sprintf("echo: %s", user), nil
	}
	i := c.calls - 1
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i], nil
}

func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.prompts))
	copy(out, c.prompts)
	return out
}
