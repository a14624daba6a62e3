// Package tokencount counts prompt and completion tokens for usage tracking.
//
// It uses tiktoken-go with the embedded offline BPE tables so counting never
// touches the network. Gemini has no public tiktoken encoding; cl100k_base is
// used as the approximation for every backend.
package tokencount

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const defaultEncoding = "cl100k_base"

var loaderOnce sync.Once

func useOfflineLoader() {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

// TokenUsage is the token count of one capability call.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Counter provides thread-safe token counting.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		useOfflineLoader()
		c.enc, c.err = tiktoken.GetEncoding(defaultEncoding)
		if c.err != nil {
			slog.Warn("token encoding unavailable; falling back to estimates", slog.Any("error", c.err))
		}
	})
	return c.enc, c.err
}

// CountTokens counts the tokens of text. When the encoding cannot be loaded
// it falls back to a four-characters-per-token estimate and returns the error.
func (c *Counter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := c.encoding()
	if err != nil {
		return estimate(text), err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CalculateUsage counts both sides of a call.
func (c *Counter) CalculateUsage(prompt, completion string) TokenUsage {
	p, _ := c.CountTokens(prompt)
	r, _ := c.CountTokens(completion)
	return TokenUsage{PromptTokens: p, CompletionTokens: r, TotalTokens: p + r}
}

func estimate(text string) int {
	n := len([]rune(text)) / 4
	if n == 0 {
		n = 1
	}
	return n
}
