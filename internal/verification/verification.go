// Package verification re-examines instances that screening flagged as
// suspicious, with more evidence and a stronger model. Its verdict is final.
package verification

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/retrieval"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/worker"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options controls one verification run.
type Options struct {
	Limit int
	RunID string
	// IncludeDeprioritized also verifies INDIRECT and ETIQUETTE citations,
	// after the suspicious ones.
	IncludeDeprioritized bool
}

// Result holds the results of a verification run.
type Result struct {
	Selected  int
	Succeeded int
	Sentinel  int
	Failed    int
	Skipped   int
	Cancelled int
	Confirmed int
	Corrected int
}

type commitFunc func(ctx context.Context, c *database.Classification, evidence []database.EvidenceSegment) error

// Verifier runs the second classification round.
type Verifier struct {
	db        *database.DB
	retriever *retrieval.Retriever
	client    *classify.Client
	coord     *worker.Coordinator
	budget    *worker.Budget
	evidence  retrieval.Options
	commit    commitFunc
}

// NewVerifier creates a verifier. evidence.Priority is ignored; it is
// derived per instance from the citation type.
func NewVerifier(db *database.DB, retriever *retrieval.Retriever, client *classify.Client,
	coord *worker.Coordinator, budget *worker.Budget, evidence retrieval.Options) *Verifier {
	return &Verifier{
		db:        db,
		retriever: retriever,
		client:    client,
		coord:     coord,
		budget:    budget,
		evidence:  evidence,
		commit:    db.CommitClassification,
	}
}

// Categories returns the first-round categories that are eligible.
func Categories(includeDeprioritized bool) []string {
	cats := classify.Strings(classify.SuspiciousCategories)
	if includeDeprioritized {
		cats = append(cats, classify.Strings(classify.DeprioritizedCategories)...)
	}
	return cats
}

// Run verifies pending instances. Per-instance failures are counted, never
// returned. Rejected credentials stop the run and are reported as its error.
func (v *Verifier) Run(ctx context.Context, opts Options) (*Result, error) {
	pending, err := v.db.PendingVerification(ctx, Categories(opts.IncludeDeprioritized), opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		zap.L().Info("no instances pending verification")
		return &Result{}, nil
	}
	zap.L().Info("verifying instances", zap.Int("count", len(pending)), zap.String("run_id", opts.RunID))

	docs := retrieval.NewDocuments(v.db, 30*time.Minute)
	tally := &determinations{}
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	tasks := make([]worker.Task, len(pending))
	for i, inst := range pending {
		tasks[i] = worker.Task{
			Key: "verify:" + strconv.FormatInt(inst.ID, 10),
			Run: func(ctx context.Context) worker.Outcome {
				return v.verifyOne(ctx, inst, docs, opts.RunID, tally, abort)
			},
		}
	}
	counts := v.coord.Process(runCtx, tasks)

	confirmed, corrected := tally.get()
	r := &Result{
		Selected:  counts.Selected,
		Succeeded: counts.Succeeded,
		Sentinel:  counts.Sentinel,
		Failed:    counts.Failed,
		Skipped:   counts.Skipped,
		Cancelled: counts.Cancelled,
		Confirmed: confirmed,
		Corrected: corrected,
	}
	zap.L().Info("verification complete",
		zap.Int("confirmed", r.Confirmed), zap.Int("corrected", r.Corrected),
		zap.Int("sentinel", r.Sentinel), zap.Int("failed", r.Failed), zap.Int("skipped", r.Skipped),
		zap.Int("cancelled", r.Cancelled))
	if cause := context.Cause(runCtx); classify.Fatal(cause) {
		return r, eris.Wrap(cause, "verification aborted")
	}
	return r, nil
}

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

func (v *Verifier) verifyOne(ctx context.Context, inst database.CitationInstance, docs *retrieval.Documents,
	runID string, tally *determinations, abort context.CancelCauseFunc) worker.Outcome {
	log := zap.L().With(zap.Int64("instance_id", inst.ID), zap.String("round", string(database.RoundSecond)))

	first, err := v.db.GetClassification(ctx, inst.ID, database.RoundFirst)
	if err != nil || first == nil {
		log.Warn("first-round classification unavailable", zap.Error(err))
		if err != nil {
			return failure(ctx, err, abort)
		}
		return worker.Failed
	}
	doc, err := docs.Get(ctx, inst.TargetDocumentID)
	if err != nil {
		log.Warn("loading cited document failed", zap.Error(err))
		return failure(ctx, err, abort)
	}

	ctype := retrieval.InferCitationType(inst.Context)
	opts := v.evidence
	opts.Priority = retrieval.PriorityFor(ctype)

	var segs []database.EvidenceSegment
	if doc != nil {
		segs, err = v.retriever.RetrieveWithAbstract(ctx, inst.Context, doc, opts)
		if err != nil {
			log.Warn("retrieval failed", zap.Error(err))
			return failure(ctx, err, abort)
		}
	}

	var verdict classify.Verdict
	if len(segs) == 0 {
		verdict = classify.NoEvidence()
	} else {
		req := classify.Request{
			Instance:     inst,
			TargetTitle:  doc.Title,
			Evidence:     segs,
			First:        first,
			CitationType: string(ctype),
		}
		verdict, err = v.client.Verify(ctx, req)
		if err != nil {
			log.Info("verification stopped", zap.Error(err))
			return failure(ctx, err, abort)
		}
	}

	c := &database.Classification{
		InstanceID:     inst.ID,
		Round:          database.RoundSecond,
		Category:       string(verdict.Category),
		Confidence:     verdict.Confidence,
		Rationale:      verdict.Rationale,
		CitationType:   verdict.CitationType,
		Recommendation: verdict.Recommendation,
		Model:          v.client.Model(),
		Attempts:       verdict.Attempts,
		RunID:          runID,
	}
	if c.CitationType == "" && ctype != retrieval.UnknownType {
		c.CitationType = string(ctype)
	}
	if !verdict.Category.Sentinel() {
		c.Determination = classify.Determination(classify.Category(first.Effective()), verdict.Category)
		if c.Recommendation == "" {
			c.Recommendation = classify.Recommendation("", verdict.Category)
		}
	}
	if len(segs) > 0 {
		if q, err := v.retriever.AssessQuality(ctx, segs); err == nil {
			c.EvidenceQuality = &q.Score
			c.EvidenceConfidence = q.Confidence
		} else {
			log.Debug("evidence quality unavailable", zap.Error(err))
		}
	}

	err = v.budget.Do(ctx, func(ctx context.Context) error {
		return v.commit(ctx, c, segs)
	})
	switch {
	case errors.Is(err, database.ErrAlreadyClassified):
		return worker.Skipped
	case err != nil:
		log.Error("committing classification failed", zap.Error(err))
		return failure(ctx, err, abort)
	}

	log.Debug("verified", zap.String("first", first.Effective()), zap.String("second", c.Category),
		zap.String("determination", c.Determination))
	if verdict.Category.Sentinel() {
		return worker.Sentinel
	}
	tally.add(c.Determination)
	return worker.Succeeded
}
