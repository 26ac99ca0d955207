package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NameGenerator proposes usernames for registrations that omit one.
type NameGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// NewNameGenerator returns an HTTP generator for url, or a random one when url is empty.
func NewNameGenerator(url string) NameGenerator {
	if strings.TrimSpace(url) == "" {
		return RandomNameGenerator{}
	}
	return &HTTPNameGenerator{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// HTTPNameGenerator asks a name service for {"value": "<name>"}.
type HTTPNameGenerator struct {
	URL    string
	Client *http.Client
}

// Generate fetches one name.
func (g *HTTPNameGenerator) Generate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return "", fmt.Errorf("auth: namegen request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: namegen: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: namegen status %d", resp.StatusCode)
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("auth: namegen decode: %w", err)
	}
	if body.Value == "" {
		return "", fmt.Errorf("auth: namegen returned an empty name")
	}
	return body.Value, nil
}

// RandomNameGenerator derives names from random UUIDs.
type RandomNameGenerator struct{}

// Generate returns "user-" followed by eight hex digits.
func (RandomNameGenerator) Generate(context.Context) (string, error) {
	return "user-" + uuid.NewString()[:8], nil
}
