// Package llm asks an OpenAI-compatible chat completion endpoint for analysis
// programs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/prompt"
	"github.com/sethvargo/go-retry"
)

// Program is the source text returned by the model, fences removed.
type Program string

// Defaults for Config and Options.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4"
	DefaultTimeout     = 60 * time.Second
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2000
	DefaultRetryDelay  = 500 * time.Millisecond

	maxResponseBytes = 4 << 20
)

// Config configures a Generator.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds a whole Generate call, retry included.
	Timeout time.Duration
	// RetryDelay is the pause before the single retry of a transient failure.
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Options are per-call sampling parameters.
type Options struct {
	Temperature     float64
	MaxOutputTokens int
}

// DefaultOptions returns the sampling parameters used by default.
func DefaultOptions() Options {
	return Options{Temperature: DefaultTemperature, MaxOutputTokens: DefaultMaxTokens}
}

// Generator turns prompt messages into programs.
type Generator struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Generator. It fails when no API key is configured.
func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{cfg: cfg, client: client, logger: logger}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate sends msgs to the model and returns the program it wrote.
// Network errors, timeouts and 5xx responses are retried once; every other
// failure is returned immediately as a *GenerationError.
func (g *Generator) Generate(ctx context.Context, msgs prompt.Messages, opts Options) (Program, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: msgs.System},
			{Role: "user", Content: msgs.User},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
	})
	if err != nil {
		return "", &GenerationError{Kind: KindBadResponse, Err: fmt.Errorf("marshal request: %w", err)}
	}

	var content string
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(g.cfg.RetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		start := time.Now()
		text, err := g.send(ctx, body)
		if err != nil {
			g.logger.Debug("model call failed",
				slog.Int("attempt", attempt),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()))
			if err.Retryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		content = text
		return nil
	})
	if err != nil {
		return "", g.classify(ctx, err)
	}

	program := StripFences(content)
	if program == "" {
		return "", &GenerationError{Kind: KindEmpty, Err: errors.New("model returned no code")}
	}
	return Program(program), nil
}

// classify turns errors escaping the retry loop into GenerationErrors.
func (g *Generator) classify(ctx context.Context, err error) error {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &GenerationError{Kind: KindTimeout, Err: fmt.Errorf("no reply within %s: %w", g.cfg.Timeout, err)}
	}
	return &GenerationError{Kind: KindTransport, Err: err}
}

func (g *Generator) send(ctx context.Context, body []byte) (string, *GenerationError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Kind: KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &GenerationError{Kind: KindTimeout, Err: err}
		}
		return "", &GenerationError{Kind: KindTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &GenerationError{Kind: KindTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, raw)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &GenerationError{Kind: KindBadResponse, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &GenerationError{Kind: KindBadResponse, StatusCode: resp.StatusCode, Err: errors.New("response has no choices")}
	}
	g.logger.Debug("model replied",
		slog.String("id", out.ID),
		slog.Int("prompt_tokens", out.Usage.PromptTokens),
		slog.Int("completion_tokens", out.Usage.CompletionTokens))
	return out.Choices[0].Message.Content, nil
}

func statusError(status int, raw []byte) *GenerationError {
	var body apiErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := fmt.Sprint(body.Error.Code)
	err := errors.New(msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &GenerationError{Kind: KindAuth, StatusCode: status, Err: err}
	case status == http.StatusPaymentRequired || code == "insufficient_quota" || body.Error.Type == "insufficient_quota":
		return &GenerationError{Kind: KindQuota, StatusCode: status, Err: err}
	case status == http.StatusTooManyRequests:
		return &GenerationError{Kind: KindRateLimit, StatusCode: status, Err: err}
	case status >= 500:
		return &GenerationError{Kind: KindTransport, StatusCode: status, Err: err}
	}
	return &GenerationError{Kind: KindBadResponse, StatusCode: status, Err: err}
}
