package llm

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any endpoint
// compatible with it when BaseURL is set.
type OpenAIProvider struct {
	Model    string
	JSONMode bool
	apiKey   string
	timeout  time.Duration
	client   *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider reading its key from apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv, baseURL string, timeout time.Duration) *OpenAIProvider {
	apiKey := os.Getenv(apiKeyEnv)
	return &OpenAIProvider{
		Model:    model,
		JSONMode: true,
		apiKey:   apiKey,
		timeout:  timeout,
		client:   newOpenAIClient(apiKey, baseURL),
	}
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.apiKey != ""
}

// Check lists the models visible to the key. Only a rejected key is an
// error: some compatible endpoints do not serve the model list.
func (o *OpenAIProvider) Check(ctx context.Context) error {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	_, err := o.client.ListModels(ctx)
	switch {
	case err == nil:
		return nil
	case IsAuthFailure(err):
		return eris.Wrap(err, "OpenAI API rejected the key")
	default:
		zap.L().Warn("model list unavailable, skipping credential check", zap.Error(err))
		return nil
	}
}

// Generate sends a prompt and returns the first choice's content.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.apiKey == "" {
		return "", eris.New("OpenAI API key not configured")
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: o.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You assess scientific citations against the cited work. Answer with a single JSON object.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
	}
	if o.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", eris.Wrap(err, "OpenAI API error")
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("no choices in OpenAI response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	Model  string
	apiKey string
	client *openai.Client
}

// NewOpenAIEmbedder creates an embedder reading its key from apiKeyEnv.
func NewOpenAIEmbedder(model, apiKeyEnv, baseURL string) *OpenAIEmbedder {
	apiKey := os.Getenv(apiKeyEnv)
	return &OpenAIEmbedder{
		Model:  model,
		apiKey: apiKey,
		client: newOpenAIClient(apiKey, baseURL),
	}
}

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.Model),
	})
	if err != nil {
		return nil, eris.Wrap(err, "OpenAI embeddings error")
	}
	if len(resp.Data) != len(texts) {
		return nil, eris.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float64, len(data))
	for i, d := range data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
