// Package screening runs the first classification round over every
// citation instance that does not have one yet.
package screening

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/retrieval"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/worker"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options controls one screening run.
type Options struct {
	Limit int
	RunID string
}

// Result holds the results of a screening run.
type Result struct {
	Selected   int
	Succeeded  int
	Sentinel   int
	Failed     int
	Skipped    int
	Cancelled  int
	NoEvidence int
}

type commitFunc func(ctx context.Context, c *database.Classification, evidence []database.EvidenceSegment) error

// Screener classifies unscreened instances against evidence retrieved
// from the cited paper.
type Screener struct {
	db        *database.DB
	retriever *retrieval.Retriever
	client    *classify.Client
	coord     *worker.Coordinator
	budget    *worker.Budget
	evidence  retrieval.Options
	commit    commitFunc
}

// NewScreener creates a screener. budget may be nil.
func NewScreener(db *database.DB, retriever *retrieval.Retriever, client *classify.Client,
	coord *worker.Coordinator, budget *worker.Budget, evidence retrieval.Options) *Screener {
	return &Screener{
		db:        db,
		retriever: retriever,
		client:    client,
		coord:     coord,
		budget:    budget,
		evidence:  evidence,
		commit:    db.CommitClassification,
	}
}

// Run screens pending instances. Per-instance failures are counted, never
// returned. A failure to read the work queue aborts the run, and rejected
// credentials stop it from launching further instances.
func (s *Screener) Run(ctx context.Context, opts Options) (*Result, error) {
	pending, err := s.db.PendingScreening(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		zap.L().Info("no instances pending screening")
		return &Result{}, nil
	}
	zap.L().Info("screening instances", zap.Int("count", len(pending)), zap.String("run_id", opts.RunID))

	docs := retrieval.NewDocuments(s.db, 30*time.Minute)
	var noEvidence atomic.Int64
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	tasks := make([]worker.Task, len(pending))
	for i, inst := range pending {
		tasks[i] = worker.Task{
			Key: "screen:" + strconv.FormatInt(inst.ID, 10),
			Run: func(ctx context.Context) worker.Outcome {
				return s.screenOne(ctx, inst, docs, opts.RunID, &noEvidence, abort)
			},
		}
	}
	counts := s.coord.Process(runCtx, tasks)

	r := &Result{
		Selected:   counts.Selected,
		Succeeded:  counts.Succeeded,
		Sentinel:   counts.Sentinel,
		Failed:     counts.Failed,
		Skipped:    counts.Skipped,
		Cancelled:  counts.Cancelled,
		NoEvidence: int(noEvidence.Load()),
	}
	zap.L().Info("screening complete",
		zap.Int("succeeded", r.Succeeded), zap.Int("sentinel", r.Sentinel),
		zap.Int("failed", r.Failed), zap.Int("skipped", r.Skipped),
		zap.Int("no_evidence", r.NoEvidence), zap.Int("cancelled", r.Cancelled))
	if cause := context.Cause(runCtx); classify.Fatal(cause) {
		return r, eris.Wrap(cause, "screening aborted")
	}
	return r, nil
}

// failure classifies an error that stopped one instance.
func failure(ctx context.Context, err error, abort context.CancelCauseFunc) worker.Outcome {
	if classify.Fatal(err) {
		abort(err)
		return worker.Failed
	}
	if ctx.Err() != nil {
		return worker.Cancelled
	}
	return worker.Failed
}

func (s *Screener) screenOne(ctx context.Context, inst database.CitationInstance, docs *retrieval.Documents,
	runID string, noEvidence *atomic.Int64, abort context.CancelCauseFunc) worker.Outcome {
	log := zap.L().With(zap.Int64("instance_id", inst.ID), zap.String("round", string(database.RoundFirst)))

	doc, err := docs.Get(ctx, inst.TargetDocumentID)
	if err != nil {
		log.Warn("loading cited document failed", zap.Error(err))
		return failure(ctx, err, abort)
	}

	var segs []database.EvidenceSegment
	if doc != nil {
		segs, err = s.retriever.Retrieve(ctx, inst.Context, doc, s.evidence)
		if err != nil {
			log.Warn("retrieval failed", zap.Error(err))
			return failure(ctx, err, abort)
		}
	}

	var v classify.Verdict
	if len(segs) == 0 {
		noEvidence.Add(1)
		v = classify.NoEvidence()
	} else {
		req := classify.Request{Instance: inst, Evidence: segs}
		if doc != nil {
			req.TargetTitle = doc.Title
		}
		v, err = s.client.Screen(ctx, req)
		if err != nil {
			log.Info("screening stopped", zap.Error(err))
			return failure(ctx, err, abort)
		}
	}

	c := &database.Classification{
		InstanceID: inst.ID,
		Round:      database.RoundFirst,
		Category:   string(v.Category),
		Confidence: v.Confidence,
		Rationale:  v.Rationale,
		Model:      s.client.Model(),
		Attempts:   v.Attempts,
		RunID:      runID,
	}
	if len(segs) > 0 {
		q, err := s.retriever.AssessQuality(ctx, segs)
		if err != nil {
			log.Debug("evidence quality unavailable", zap.Error(err))
		} else {
			c.EvidenceQuality = &q.Score
			c.EvidenceConfidence = q.Confidence
		}
	}

	err = s.budget.Do(ctx, func(ctx context.Context) error {
		return s.commit(ctx, c, segs)
	})
	switch {
	case errors.Is(err, database.ErrAlreadyClassified):
		log.Debug("already screened by another worker")
		return worker.Skipped
	case err != nil:
		log.Error("committing classification failed", zap.Error(err))
		return failure(ctx, err, abort)
	}

	log.Debug("screened", zap.String("category", c.Category), zap.Int("evidence", len(segs)))
	if v.Category.Sentinel() {
		return worker.Sentinel
	}
	return worker.Succeeded
}
