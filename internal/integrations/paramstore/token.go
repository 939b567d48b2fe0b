package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// TokenSource supplies a bearer credential, possibly fetched lazily.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a credential taken verbatim from configuration.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", errors.New("paramstore: static token is empty")
	}
	return token, nil
}

// tokenPayload is the JSON shape stored in SSM for credentials.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamToken reads a {"token": "..."} parameter on first use and keeps it for
// the lifetime of the process. Failed lookups are not cached.
type ParamToken struct {
	getter Getter
	name   string

	mu     sync.RWMutex
	loaded bool
	token  string
}

func NewParamToken(getter Getter, name string) (*ParamToken, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &ParamToken{getter: getter, name: name}, nil
}

func (p *ParamToken) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.loaded {
		token := p.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.token, nil
	}

	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token in %q is empty", p.name)
	}

	p.token = strings.TrimSpace(tp.Token)
	p.loaded = true
	return p.token, nil
}
