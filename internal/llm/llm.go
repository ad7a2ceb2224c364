package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Checker is implemented by providers that can verify their credentials
// with one cheap authenticated call.
type Checker interface {
	Check(ctx context.Context) error
}

// Check verifies p's credentials when p supports it.
func Check(ctx context.Context, p Provider) error {
	if c, ok := p.(Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// StatusError is a non-200 answer from a provider endpoint.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.Code, e.Body)
}

// IsTransient reports whether a failed call is worth retrying: network
// errors, timeouts, rate limiting and server errors. Other 4xx answers are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if code := statusCode(err); code != 0 {
		return code == 429 || code >= 500
	}

	// Anything else is a connection-level failure.
	return true
}

// IsAuthFailure reports whether the provider rejected the credentials.
func IsAuthFailure(err error) bool {
	code := statusCode(err)
	return code == 401 || code == 403
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// CreateProvider creates an LLM provider based on configuration. An error is
// returned when the selected provider is not usable.
func CreateProvider(provider, model, ollamaURL, baseURL, apiKeyEnv string, timeout time.Duration) (Provider, error) {
	switch strings.ToLower(provider) {
	case "ollama":
		p := NewOllamaProvider(model, ollamaURL, timeout)
		if !p.IsConfigured() {
			return nil, eris.Errorf("ollama at %s has no model %q", ollamaURL, model)
		}
		zap.L().Info("using ollama", zap.String("model", model))
		return p, nil
	case "openai", "":
		p := NewOpenAIProvider(model, apiKeyEnv, baseURL, timeout)
		if !p.IsConfigured() {
			return nil, eris.Errorf("no API key in $%s", apiKeyEnv)
		}
		zap.L().Info("using openai", zap.String("model", model), zap.String("base_url", baseURL))
		return p, nil
	default:
		return nil, eris.Errorf("unknown provider %q", provider)
	}
}

// CreateEmbedder creates an embedding backend based on configuration.
func CreateEmbedder(provider, model, ollamaURL, baseURL, apiKeyEnv string, timeout time.Duration) (Embedder, error) {
	switch strings.ToLower(provider) {
	case "ollama":
		return NewOllamaEmbedder(model, ollamaURL, timeout), nil
	case "openai", "":
		e := NewOpenAIEmbedder(model, apiKeyEnv, baseURL)
		if e.apiKey == "" {
			return nil, eris.Errorf("no API key in $%s for embeddings", apiKeyEnv)
		}
		return e, nil
	default:
		return nil, eris.Errorf("unknown embedding provider %q", provider)
	}
}
