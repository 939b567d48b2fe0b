package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"debate-agent/internal/usecase"
)

// Handle is the API Gateway proxy entry point.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(headerValue(req.Headers, correlationHeader))
	logger := h.logger.With("correlationId", corrID)

	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	method := strings.ToUpper(req.HTTPMethod)
	path := "/" + strings.Trim(req.Path, "/")

	var res result
	switch {
	case method == http.MethodGet && path == "/":
		return textResponse(http.StatusOK, healthText, corrID), nil
	case method == http.MethodGet && path == "/healthz":
		res = healthResult()
	case method == http.MethodPost && path == "/api/debate":
		body, err := eventBody(req)
		if err != nil {
			res = errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, reasonInvalidBody)
			break
		}
		res = h.debate(ctx, headerValue(req.Headers, apiKeyHeader), body)
	default:
		res = routeNotFound()
	}

	logger.InfoContext(ctx, "request handled", slog.String("method", method), slog.String("path", path), slog.Int("status", res.status))
	return jsonResponse(res, corrID), nil
}

func eventBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// headerValue looks name up case-insensitively; API Gateway forwards headers
// in whatever case the client sent.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonResponse(res result, corrID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(res.body)
	if err != nil {
		res.status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","reason":"Internal server error."}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: res.status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

func textResponse(status int, text, corrID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			correlationHeader: corrID,
		},
		Body: text,
	}
}
