package ai

import "strings"

// Credentials is a read-only model → API key map built at startup.
type Credentials struct {
	keys map[string]string
}

// NewCredentials copies keys, dropping blank values.
func NewCredentials(keys map[string]string) *Credentials {
	c := &Credentials{keys: make(map[string]string, len(keys))}
	for model, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			c.keys[model] = key
		}
	}
	return c
}

// Credential returns the key configured for model.
func (c *Credentials) Credential(model string) (string, bool) {
	if c == nil {
		return "", false
	}
	key, ok := c.keys[model]
	return key, ok
}
