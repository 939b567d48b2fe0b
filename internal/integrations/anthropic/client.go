package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"debate-agent/internal/domain"
	"debate-agent/internal/integrations/paramstore"
)

const DefaultModel = "claude-3-5-haiku-latest"

// HTTPStatusError reports a non-2xx response from the Messages API.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates replies with the Anthropic Messages API.
type Client struct {
	tokens     paramstore.TokenSource
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client

	mu  sync.RWMutex
	api *sdk.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(model); s != "" {
			c.model = s
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxRetries overrides the SDK's retry count.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func NewClient(tokens paramstore.TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("anthropic: token source must not be nil")
	}
	c := &Client{
		tokens:     tokens,
		model:      DefaultModel,
		maxRetries: 2,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPI(ctx context.Context) (*sdk.Client, error) {
	c.mu.RLock()
	if c.api != nil {
		api := c.api
		c.mu.RUnlock()
		return api, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("anthropic: resolve token: %w", err)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	api := sdk.NewClient(opts...)
	c.api = &api
	return c.api, nil
}

// Generate sends req.Prompt as a single user turn and joins the text blocks of
// the reply.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("anthropic: prompt must not be empty")
	}
	if req.MaxTokens <= 0 {
		return "", errors.New("anthropic: max tokens must be positive")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	msg, err := api.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: sdk.Float(req.Temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("anthropic: no text content in response")
	}
	return text, nil
}
