// Package pipeline wires the stages together and runs them in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/analytics"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/cache"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/config"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/impact"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/retrieval"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/screening"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/verification"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/worker"
	"go.uber.org/zap"
)

// Stage names recorded in the run log.
const (
	StageScreening    = "screening"
	StageVerification = "verification"
	StageAnalytics    = "analytics"
	StageImpact       = "impact"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	RunID   string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps  []StepResult
	Report *analytics.Report
}

// Deps are the external services a pipeline talks to.
type Deps struct {
	Screening    llm.Provider
	Verification llm.Provider
	Embedder     llm.Embedder
	// Redis is an optional shared embedding cache tier.
	Redis *redis.Client
}

// Close releases connections held by d.
func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// Connect creates the model providers and embedder from configuration.
// It fails when the classification provider is not usable or rejects its
// credentials. The Redis tier
// is optional: a connection failure is logged and the in-process cache is
// used alone.
func Connect(ctx context.Context, cfg *config.Config) (*Deps, error) {
	c := cfg.Classification
	timeout := time.Duration(c.TimeoutSeconds) * time.Second

	screen, err := llm.CreateProvider(c.Provider, c.ScreeningModel, c.OllamaURL, c.BaseURL, c.APIKeyEnv, timeout)
	if err != nil {
		return nil, err
	}
	verify, err := llm.CreateProvider(c.Provider, c.VerificationModel, c.OllamaURL, c.BaseURL, c.APIKeyEnv, timeout)
	if err != nil {
		return nil, err
	}
	for _, p := range []llm.Provider{screen, verify} {
		if err := llm.Check(ctx, p); err != nil {
			return nil, err
		}
	}
	emb, err := llm.CreateEmbedder(cfg.Embedding.Provider, cfg.Embedding.Model, c.OllamaURL, c.BaseURL, c.APIKeyEnv, timeout)
	if err != nil {
		return nil, err
	}

	d := &Deps{Screening: screen, Verification: verify, Embedder: emb}
	if addr := cfg.Embedding.RedisAddr; addr != "" {
		rdb, err := cache.NewRedisClient(ctx, addr, os.Getenv(cfg.Embedding.RedisPasswordEnv))
		if err != nil {
			zap.L().Warn("redis embedding cache unavailable", zap.String("addr", addr), zap.Error(err))
		} else {
			d.Redis = rdb
		}
	}
	return d, nil
}

// Pipeline orchestrates screening, verification, analytics and impact
// assessment against one store.
type Pipeline struct {
	cfg *config.Config
	db  *database.DB

	coord      *worker.Coordinator
	budget     *worker.Budget
	embeddings *cache.Embedder

	screener   *screening.Screener
	verifier   *verification.Verifier
	aggregator *analytics.Aggregator
	assessor   *impact.Assessor
}

// New wires a pipeline. Every stage shares one coordinator, one external
// call budget and one per-model rate limiter.
func New(cfg *config.Config, db *database.DB, deps *Deps) *Pipeline {
	coord := worker.NewCoordinator(cfg.Concurrency.Workers)
	budget := worker.NewBudget(cfg.Concurrency.ExternalCalls)
	limiter := worker.NewLimiter(cfg.Classification.RequestsPerSecond, cfg.Classification.Burst)
	for model, r := range cfg.Classification.ModelRates {
		limiter.SetModelRate(model, r.RequestsPerSecond, r.Burst)
	}

	c := cfg.Classification
	backoff := time.Duration(c.BackoffMillis) * time.Millisecond

	ttl := time.Duration(cfg.Embedding.CacheTTLMinutes) * time.Minute
	var store cache.Store = cache.NewMemoryStore(ttl)
	if deps.Redis != nil {
		store = cache.Tiered{store, cache.NewRedisStore(deps.Redis, ttl)}
	}
	embedder := worker.RetryingEmbedder(worker.BudgetedEmbedder(deps.Embedder, budget), c.MaxAttempts, backoff)
	embeddings := cache.NewEmbedder(embedder, store, cfg.Embedding.Model)
	retriever := retrieval.NewRetriever(embeddings, cfg.Retrieval.LexicalTopN, cfg.Retrieval.MinParagraphChars)
	screenClient := classify.NewClient(deps.Screening, limiter, budget, classify.Config{
		Model: c.ScreeningModel, MaxTokens: c.ScreeningMaxTokens, MaxAttempts: c.MaxAttempts, Backoff: backoff,
	})
	verifyClient := classify.NewClient(deps.Verification, limiter, budget, classify.Config{
		Model: c.VerificationModel, MaxTokens: c.VerificationMaxTokens, MaxAttempts: c.MaxAttempts, Backoff: backoff,
	})
	impactClient := classify.NewClient(deps.Verification, limiter, budget, classify.Config{
		Model: c.VerificationModel, MaxTokens: cfg.Impact.MaxTokens, MaxAttempts: c.MaxAttempts, Backoff: backoff,
	})

	r := cfg.Retrieval
	return &Pipeline{
		cfg:        cfg,
		db:         db,
		coord:      coord,
		budget:     budget,
		embeddings: embeddings,
		screener: screening.NewScreener(db, retriever, screenClient, coord, budget,
			retrieval.Options{TopK: r.Screening.TopK, MinScore: r.Screening.MinScore}),
		verifier: verification.NewVerifier(db, retriever, verifyClient, coord, budget,
			retrieval.Options{TopK: r.Verification.TopK, MinScore: r.Verification.MinScore}),
		aggregator: analytics.NewAggregator(db, cfg.Analytics.RepeatOffenderThreshold),
		assessor: impact.NewAssessor(db, impactClient, coord, budget,
			cfg.Analytics.RepeatOffenderThreshold, cfg.Impact.MaxDocumentChars),
	}
}

// Run screens and verifies up to limit instances each, then recomputes
// analytics. Impact assessment is not part of a run; it is requested per
// document.
func (p *Pipeline) Run(ctx context.Context, limit int) *Result {
	r := &Result{}

	step := p.Screen(ctx, limit)
	r.Steps = append(r.Steps, step)
	if step.Err != nil || ctx.Err() != nil {
		return r
	}

	step = p.Verify(ctx, limit)
	r.Steps = append(r.Steps, step)
	if step.Err != nil || ctx.Err() != nil {
		return r
	}

	r.Report, step = p.Analyze(ctx)
	r.Steps = append(r.Steps, step)
	return r
}

// DryRun shows what would be done without calling any model.
func (p *Pipeline) DryRun(ctx context.Context, limit int) *Result {
	r := &Result{}

	pending, err := p.db.PendingScreening(ctx, limit)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Screen",
		Summary: fmt.Sprintf("[dry-run] %d instances need screening", len(pending)),
		Err:     err,
	})

	cats := verification.Categories(p.cfg.Classification.IncludeDeprioritized)
	flagged, err := p.db.PendingVerification(ctx, cats, limit)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Verify",
		Summary: fmt.Sprintf("[dry-run] %d flagged instances need verification", len(flagged)),
		Err:     err,
	})

	report, err := p.aggregator.Build(ctx)
	step := StepResult{Name: "Analyze", Err: err}
	if report != nil {
		step.Summary = fmt.Sprintf("[dry-run] %d repeat offenders would be reported", len(report.RepeatOffenders))
	}
	r.Steps = append(r.Steps, step)
	return r
}

// Screen runs the screening stage.
func (p *Pipeline) Screen(ctx context.Context, limit int) StepResult {
	zap.L().Info("screening citations")
	step, run := p.begin("Screen", StageScreening)
	res, err := p.screener.Run(ctx, screening.Options{Limit: limit, RunID: run.RunID})
	if res != nil {
		run.Selected, run.Succeeded, run.Sentinel, run.Failed, run.Skipped =
			res.Selected, res.Succeeded, res.Sentinel, res.Failed, res.Skipped
		p.finish(ctx, run)
	}
	if err != nil {
		step.Err = err
		return step
	}
	step.Summary = fmt.Sprintf("Screened %d instances: %d classified (%d without evidence), %d eval failures, %d failed, %d skipped",
		res.Selected, res.Succeeded+res.Sentinel, res.NoEvidence, res.Sentinel, res.Failed, res.Skipped)
	return step
}

// Verify runs the verification stage.
func (p *Pipeline) Verify(ctx context.Context, limit int) StepResult {
	zap.L().Info("verifying flagged citations")
	step, run := p.begin("Verify", StageVerification)
	res, err := p.verifier.Run(ctx, verification.Options{
		Limit:                limit,
		RunID:                run.RunID,
		IncludeDeprioritized: p.cfg.Classification.IncludeDeprioritized,
	})
	if res != nil {
		run.Selected, run.Succeeded, run.Sentinel, run.Failed, run.Skipped =
			res.Selected, res.Succeeded, res.Sentinel, res.Failed, res.Skipped
		p.finish(ctx, run)
	}
	if err != nil {
		step.Err = err
		return step
	}
	step.Summary = fmt.Sprintf("Verified %d instances: %d confirmed, %d corrected, %d eval failures, %d failed",
		res.Selected, res.Confirmed, res.Corrected, res.Sentinel, res.Failed)
	return step
}

// Analyze recomputes the analytics report.
func (p *Pipeline) Analyze(ctx context.Context) (*analytics.Report, StepResult) {
	step, run := p.begin("Analyze", StageAnalytics)
	report, err := p.aggregator.Build(ctx)
	if err != nil {
		step.Err = err
		return nil, step
	}
	run.Selected, run.Succeeded = report.TotalInstances, report.TotalInstances-report.UnclassifiedInstances
	p.finish(ctx, run)
	step.Summary = fmt.Sprintf("%d instances, fidelity %.1f%%, false positives %.1f%%, %d repeat offenders",
		report.TotalInstances, 100*report.FidelityRate, 100*report.FalsePositiveRate, len(report.RepeatOffenders))
	return report, step
}

// Assess runs impact assessment for one document.
func (p *Pipeline) Assess(ctx context.Context, documentID string, force bool) (*database.ImpactAssessment, StepResult) {
	step, run := p.begin("Impact", StageImpact)
	a, err := p.assessor.Assess(ctx, documentID, impact.Options{Force: force, RunID: run.RunID})
	run.Selected = 1
	if err != nil {
		step.Err = err
		if !errors.Is(err, impact.ErrNotRepeatOffender) {
			run.Failed = 1
			p.finish(ctx, run)
		}
		return nil, step
	}
	run.Succeeded = 1
	p.finish(ctx, run)
	step.Summary = fmt.Sprintf("%s: %s (%d problematic citations)", documentID, a.OverallClassification, a.ProblematicCount)
	return a, step
}

// RetryFailed clears sentinel classifications of round so the next run
// selects those instances again.
func (p *Pipeline) RetryFailed(ctx context.Context, round database.Round) (int, error) {
	return p.db.ResetClassifications(ctx, round, classify.Strings(classify.SentinelCategories))
}

// CacheStats reports embedding cache hits and misses since New.
func (p *Pipeline) CacheStats() (hits, misses int64) {
	return p.embeddings.Stats()
}

func (p *Pipeline) begin(name, stage string) (StepResult, *database.StageRun) {
	id := uuid.NewString()
	return StepResult{Name: name, RunID: id}, &database.StageRun{RunID: id, Stage: stage, StartedAt: time.Now()}
}

// finish records the stage run. The run log is informational, so a failed
// write is only logged.
func (p *Pipeline) finish(ctx context.Context, run *database.StageRun) {
	run.FinishedAt = time.Now()
	if err := p.db.RecordStageRun(context.WithoutCancel(ctx), run); err != nil {
		zap.L().Warn("recording stage run failed", zap.String("run_id", run.RunID), zap.Error(err))
	}
}
