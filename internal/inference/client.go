// Package inference sends receipt photos to a hosted multimodal model and returns its raw reply.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"google.golang.org/genai"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

var errEmptyResponse = errors.New("empty response from model")

// Analyzer turns image bytes into the model's raw text reply.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

// generator is the part of *genai.Models the client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures a GeminiClient. Zero values fall back to the defaults.
type Config struct {
	APIKey      string
	Model       string
	Prompt      string
	Timeout     time.Duration
	MaxAttempts uint
	RetryDelay  time.Duration
}

// GeminiClient calls the Gemini API with a fixed prompt.
type GeminiClient struct {
	models   generator
	model    string
	prompt   string
	timeout  time.Duration
	attempts uint
	delay    time.Duration
}

// NewGeminiClient creates the underlying genai client. A missing API key is a
// *domain.StartupConfigError.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &domain.StartupConfigError{Problems: []string{"GEMINI_API_KEY is required"}}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}

	return newClient(client.Models, cfg), nil
}

func newClient(models generator, cfg Config) *GeminiClient {
	c := &GeminiClient{
		models:   models,
		model:    cfg.Model,
		prompt:   cfg.Prompt,
		timeout:  cfg.Timeout,
		attempts: cfg.MaxAttempts,
		delay:    cfg.RetryDelay,
	}
	if c.model == "" {
		c.model = DefaultModelName
	}
	if c.prompt == "" {
		c.prompt = Prompt
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.attempts == 0 {
		c.attempts = DefaultMaxAttempts
	}
	if c.delay <= 0 {
		c.delay = DefaultRetryDelay
	}
	return c
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// Analyze sends the prompt and image. The whole call, retries included, is bounded
// by the configured timeout. Every failure, including the deadline, comes back as
// a *domain.InferenceError.
func (c *GeminiClient) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := logger.FromContext(ctx)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: c.prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}

	var text string
	err := retry.Do(
		func() error {
			resp, err := c.models.GenerateContent(ctx, c.model, contents, nil)
			if err != nil {
				return err
			}
			text = resp.Text()
			if strings.TrimSpace(text) == "" {
				return errEmptyResponse
			}
			return nil
		},
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("model", c.model).Msg("Model call failed, retrying")
		}),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		return "", &domain.InferenceError{Err: err}
	}

	return text, nil
}

var _ Analyzer = (*GeminiClient)(nil)
