package question

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/guhur/plus-proche/internal/domain"
)

const defaultTimeout = 30 * time.Second

type ClientConfig struct {
	// URL of the generation endpoint, such as http://localhost:8080/api/generate-question.
	URL     string
	Timeout time.Duration
	HTTP    *http.Client
}

// Client calls a question generator over HTTP. Every failure wraps
// domain.ErrGenerationFailed.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(c ClientConfig) *Client {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: c.Timeout}
	}

	return &Client{
		url:  c.URL,
		http: c.HTTP,
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (Generated, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Generated{}, fmt.Errorf("%w: marshal request: %v", domain.ErrGenerationFailed, err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Generated{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	r.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(r)
	if err != nil {
		return Generated{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return Generated{}, fmt.Errorf("%w: status %d: %s", domain.ErrGenerationFailed, res.StatusCode, bytes.TrimSpace(msg))
	}

	var g Generated
	if err := json.NewDecoder(res.Body).Decode(&g); err != nil {
		return Generated{}, fmt.Errorf("%w: decode response: %v", domain.ErrGenerationFailed, err)
	}

	if err := g.validate(); err != nil {
		return Generated{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	return g, nil
}

func (g Generated) validate() error {
	if g.Question == "" {
		return fmt.Errorf("empty question")
	}
	if math.IsNaN(g.Answer) || math.IsInf(g.Answer, 0) {
		return fmt.Errorf("answer is not a finite number")
	}
	return nil
}
