// Package stub provides the default, offline AI backend.
package stub

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

// previewRunes is how much of the prompt the placeholder reply echoes.
const previewRunes = 50

// Reply is a scripted outcome for one model.
type Reply struct {
	Text string
	Err  error
}

// Client is a fast, deterministic AI client. Without a script it answers
// "Response from <model>: <first 50 prompt characters>...".
type Client struct {
	mu      sync.Mutex
	scripts map[string][]Reply
	calls   []domain.CallRequest
}

// New returns a client that answers every model with the placeholder text.
func New() *Client { return &Client{scripts: map[string][]Reply{}} }

// Script queues replies for model. Each call pops one reply; the last one
// sticks once the queue is drained.
func (c *Client) Script(model string, replies ...Reply) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[model] = append(c.scripts[model], replies...)
	return c
}

// Call implements domain.AIClient.
func (c *Client) Call(ctx domain.Context, req domain.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	queue := c.scripts[req.Model]
	var scripted *Reply
	if len(queue) > 0 {
		r := queue[0]
		scripted = &r
		if len(queue) > 1 {
			c.scripts[req.Model] = queue[1:]
		}
	}
	c.mu.Unlock()

	if scripted != nil {
		return scripted.Text, scripted.Err
	}
	return Placeholder(req.Model, req.Prompt), nil
}

// Calls returns a copy of every request received so far.
func (c *Client) Calls() []domain.CallRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CallRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// Placeholder is the unscripted reply for model and prompt.
func Placeholder(model, prompt string) string {
	runes := []rune(prompt)
	if len(runes) > previewRunes {
		runes = runes[:previewRunes]
	}
	return fmt.Sprintf("Response from %s: %s...", model, string(runes))
}
