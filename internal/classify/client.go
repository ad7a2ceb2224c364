package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/worker"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrMalformed is returned when a model answer does not have the expected shape.
	ErrMalformed = errors.New("malformed model response")
	// ErrUnauthorized is returned when the provider rejects the credentials.
	// No item can succeed after it, so stages stop launching work.
	ErrUnauthorized = errors.New("model provider rejected the credentials")
)

// Fatal reports whether err ends the whole batch rather than one item.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || llm.IsAuthFailure(err)
}

// NoEvidenceRationale is recorded when retrieval found nothing to judge.
const NoEvidenceRationale = "no passage cleared the similarity threshold"

// Config selects the model and retry policy for one client.
type Config struct {
	Model       string
	MaxTokens   int
	MaxAttempts int
	Backoff     time.Duration
}

// Client calls a model provider under the shared rate limiter and call
// budget, retrying transient failures.
type Client struct {
	provider llm.Provider
	limiter  *worker.Limiter
	budget   *worker.Budget
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. limiter and budget may be nil.
func NewClient(provider llm.Provider, limiter *worker.Limiter, budget *worker.Budget, cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{provider: provider, limiter: limiter, budget: budget, cfg: cfg, sleep: worker.Sleep}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Request is one citation to classify.
type Request struct {
	Instance    database.CitationInstance
	TargetTitle string
	Evidence    []database.EvidenceSegment

	// Verification only.
	First        *database.Classification
	CitationType string
}

// Verdict is a parsed classification. Category may be a sentinel.
type Verdict struct {
	Category       Category
	Confidence     float64
	Rationale      string
	CitationType   string
	Recommendation string
	KeyFindings    []string
	Attempts       int
}

// NoEvidence is the verdict recorded without a model call when retrieval
// returned nothing.
func NoEvidence() Verdict {
	return Verdict{Category: NotSubstantiate, Confidence: 0.6, Rationale: NoEvidenceRationale}
}

// Screen classifies an instance from its first-round evidence.
func (c *Client) Screen(ctx context.Context, r Request) (Verdict, error) {
	return c.classify(ctx, screeningText(r), false)
}

// Verify re-classifies a flagged instance from its expanded evidence.
func (c *Client) Verify(ctx context.Context, r Request) (Verdict, error) {
	return c.classify(ctx, verificationText(r), true)
}

func (c *Client) classify(ctx context.Context, prompt string, verification bool) (Verdict, error) {
	m, attempts, err := c.Call(ctx, prompt, requireClassification)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) {
			return Verdict{}, err
		}
		return Verdict{Category: EvalFailed, Rationale: err.Error(), Attempts: attempts}, nil
	}

	v := Verdict{
		Category:  ParseCategory(llm.String(m, "classification", "")),
		Rationale: llm.String(m, "justification", ""),
		Attempts:  attempts,
	}
	v.Confidence = 0.5
	if f, ok := llm.Float(m, "confidence"); ok {
		v.Confidence = clamp(f)
	}
	if v.Category == Unrecognized {
		v.Rationale = strings.TrimSpace("model answered " + llm.String(m, "classification", "") + ". " + v.Rationale)
	}

	if verification {
		v.CitationType = strings.ToUpper(llm.String(m, "citation_type", ""))
		v.KeyFindings = llm.Strings(m, "key_findings")
		v.Recommendation = Recommendation(llm.String(m, "recommendation", ""), v.Category)
		if len(v.KeyFindings) > 0 {
			v.Rationale += "\n\nKey findings:\n- " + strings.Join(v.KeyFindings, "\n- ")
		}
	}
	return v, nil
}

// requireClassification accepts "category" as an alias some models use.
func requireClassification(m map[string]any) error {
	if llm.String(m, "classification", "") == "" {
		if alt := llm.String(m, "category", ""); alt != "" {
			m["classification"] = alt
			return nil
		}
		return eris.Wrap(ErrMalformed, "missing classification")
	}
	return nil
}

// Call sends prompt and returns the parsed JSON answer once validate accepts
// it. Transient provider errors are retried with exponential backoff up to
// MaxAttempts; a malformed answer is retried once; other errors are final.
// The returned error is ctx's error when ctx ended, and wraps
// ErrUnauthorized when the credentials were rejected.
func (c *Client) Call(ctx context.Context, prompt string, validate func(map[string]any) error) (map[string]any, int, error) {
	var (
		attempts  int
		failures  int
		malformed int
		lastErr   error
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
		attempts++

		text, err := c.generate(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempts, ctx.Err()
			}
			lastErr = err
			if llm.IsAuthFailure(err) {
				return nil, attempts, eris.Wrap(ErrUnauthorized, err.Error())
			}
			if !llm.IsTransient(err) {
				return nil, attempts, eris.Wrap(err, "model call failed")
			}
			failures++
			if failures >= c.cfg.MaxAttempts {
				return nil, attempts, eris.Wrapf(lastErr, "giving up after %d attempts", attempts)
			}
			wait := c.cfg.Backoff << (failures - 1)
			zap.L().Debug("retrying model call",
				zap.String("model", c.cfg.Model), zap.Int("attempt", attempts),
				zap.Duration("backoff", wait), zap.Error(err))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, attempts, err
			}
			continue
		}

		m, err := llm.ParseJSONResponse(text)
		if err == nil && validate != nil {
			err = validate(m)
		}
		if err == nil {
			return m, attempts, nil
		}
		if !errors.Is(err, ErrMalformed) {
			err = eris.Wrap(ErrMalformed, err.Error())
		}
		lastErr = err
		malformed++
		if malformed > 1 {
			return nil, attempts, eris.Wrapf(lastErr, "giving up after %d attempts", attempts)
		}
		zap.L().Debug("retrying malformed model answer",
			zap.String("model", c.cfg.Model), zap.Int("attempt", attempts), zap.Error(err))
	}
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx, c.cfg.Model); err != nil {
		return "", err
	}
	var text string
	err := c.budget.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = c.provider.Generate(ctx, prompt, c.cfg.MaxTokens)
		return err
	})
	return text, err
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
