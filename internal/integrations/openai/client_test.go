package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"debate-agent/internal/domain"
	"debate-agent/internal/integrations/paramstore"
)

type countingTokens struct {
	token string
	err   error
	calls int
}

func (c *countingTokens) Token(context.Context) (string, error) {
	c.calls++
	return c.token, c.err
}

type capturedRequest struct {
	Path          string
	Authorization string
	Fields        map[string]json.RawMessage
	Body          struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func newTestServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.Path = r.URL.Path
			captured.Authorization = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &captured.Body)
			_ = json.Unmarshal(raw, &captured.Fields)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens paramstore.TokenSource) *Client {
	t.Helper()
	c, err := NewClient(tokens, WithBaseURL(srv.URL+"/v1"), WithModel("test-model"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

const okBody = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"test-model",
	"choices":[{"index":0,"message":{"role":"assistant","content":"  The earth is flat.  "},"finish_reason":"stop"}]}`

func TestNewClient_Defaults(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	c, err := NewClient(paramstore.StaticToken("sk"))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
	require.Equal(t, DefaultModel, c.model)
}

func TestClient_Generate_HappyPath(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, http.StatusOK, okBody, &captured)
	c := newTestClient(t, srv, paramstore.StaticToken("sk-test"))

	out, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "argue", Temperature: 0.7, MaxTokens: 50})
	require.NoError(t, err)
	require.Equal(t, "  The earth is flat.  ", out)

	require.Equal(t, "/v1/chat/completions", captured.Path)
	require.Equal(t, "Bearer sk-test", captured.Authorization)
	require.Equal(t, "test-model", captured.Body.Model)
	require.InDelta(t, 0.7, captured.Body.Temperature, 1e-6)
	require.Equal(t, 50, captured.Body.MaxTokens)
	require.Len(t, captured.Body.Messages, 1)
	require.Equal(t, "user", captured.Body.Messages[0].Role)
	require.Equal(t, "argue", captured.Body.Messages[0].Content)
}

func TestClient_Generate_ZeroTemperatureIsSent(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, http.StatusOK, okBody, &captured)
	c := newTestClient(t, srv, paramstore.StaticToken("sk-test"))

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "argue", Temperature: 0, MaxTokens: 50})
	require.NoError(t, err)
	require.Contains(t, captured.Fields, "temperature")
	require.InDelta(t, 0, captured.Body.Temperature, 1e-6)
}

func TestClient_Generate_TokenResolvedOnce(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, okBody, nil)
	tokens := &countingTokens{token: "sk-ssm"}
	c := newTestClient(t, srv, tokens)

	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
		require.NoError(t, err)
	}
	require.Equal(t, 1, tokens.calls)
}

func TestClient_Generate_TokenErrorNotCached(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, okBody, nil)
	tokens := &countingTokens{err: errors.New("ssm unavailable")}
	c := newTestClient(t, srv, tokens)

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.ErrorContains(t, err, "ssm unavailable")

	tokens.err, tokens.token = nil, "sk-later"
	_, err = c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, 2, tokens.calls)
}

func TestClient_Generate_StatusErrors(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusUnauthorized} {
		srv := newTestServer(t, status, `{"error":{"message":"nope","type":"server_error"}}`, nil)
		c := newTestClient(t, srv, paramstore.StaticToken("sk"))

		_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
		require.Error(t, err)
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, status, statusErr.HTTPStatusCode())
	}
}

func TestClient_Generate_NoChoices(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, nil)
	c := newTestClient(t, srv, paramstore.StaticToken("sk"))

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.ErrorContains(t, err, "no choices")
}

func TestClient_Generate_EmptyContent(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"   "}}]}`, nil)
	c := newTestClient(t, srv, paramstore.StaticToken("sk"))

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.ErrorContains(t, err, "empty content")
}

func TestClient_Generate_MalformedResponse(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"choices":`, nil)
	c := newTestClient(t, srv, paramstore.StaticToken("sk"))

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.Error(t, err)
}

func TestClient_Generate_EmptyPrompt(t *testing.T) {
	c, err := NewClient(paramstore.StaticToken("sk"))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), domain.GenerationRequest{Prompt: " "})
	require.ErrorContains(t, err, "prompt")
}

func TestClient_Generate_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv, paramstore.StaticToken("sk"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, domain.GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
