// Package impact assesses how much a repeat-offender document depends on
// its problematic citations.
package impact

import (
	"context"
	"errors"
	"strconv"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/analytics"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/retrieval"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/worker"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrNotRepeatOffender is returned for documents below the threshold
	// unless Force is set.
	ErrNotRepeatOffender = errors.New("document is not a repeat offender")
	// ErrDocumentNotFound is returned when the citing document is unknown.
	ErrDocumentNotFound = errors.New("document not found")
)

// Options controls one assessment.
type Options struct {
	Force bool
	RunID string
}

// Assessor runs both phases for one citing document.
type Assessor struct {
	db        *database.DB
	client    *classify.Client
	coord     *worker.Coordinator
	budget    *worker.Budget
	threshold int
	maxChars  int
}

// NewAssessor creates an assessor. maxChars bounds each paper's full text
// in the prompt; 0 means no bound.
func NewAssessor(db *database.DB, client *classify.Client, coord *worker.Coordinator,
	budget *worker.Budget, threshold, maxChars int) *Assessor {
	if threshold <= 0 {
		threshold = 2
	}
	return &Assessor{db: db, client: client, coord: coord, budget: budget, threshold: threshold, maxChars: maxChars}
}

// ProblematicInstances returns the instances of documentID whose
// authoritative category is problematic.
func (a *Assessor) ProblematicInstances(ctx context.Context, documentID string) ([]int64, error) {
	rows, err := a.db.AnalyticsRows(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, r := range rows {
		if analytics.Authoritative(r.First, r.Second).Problematic() {
			ids = append(ids, r.InstanceID)
		}
	}
	return ids, nil
}

// Assess judges every problematic citation of documentID, synthesizes a
// verdict and replaces the stored assessment. If no citation could be
// assessed the stored assessment is left untouched and ErrNoJudgments is
// returned.
func (a *Assessor) Assess(ctx context.Context, documentID string, opts Options) (*database.ImpactAssessment, error) {
	ids, err := a.ProblematicInstances(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(ids) < a.threshold && !opts.Force {
		return nil, eris.Wrapf(ErrNotRepeatOffender, "%s has %d problematic citations, threshold is %d",
			documentID, len(ids), a.threshold)
	}
	if len(ids) == 0 {
		return nil, eris.Wrapf(ErrNoJudgments, "%s has no problematic citations", documentID)
	}

	citing, err := a.db.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if citing == nil {
		return nil, eris.Wrap(ErrDocumentNotFound, documentID)
	}

	log := zap.L().With(zap.String("document_id", documentID))
	log.Info("assessing impact", zap.Int("citations", len(ids)))

	docs := retrieval.NewDocuments(a.db, 0)
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	judgments := make([]Judgment, len(ids))
	tasks := make([]worker.Task, len(ids))
	for i, id := range ids {
		judgments[i] = Judgment{InstanceID: id, ImpactLevel: LevelUnassessed}
		tasks[i] = worker.Task{
			Key: "impact:" + strconv.FormatInt(id, 10),
			Run: func(ctx context.Context) worker.Outcome {
				j, outcome := a.judge(ctx, citing, id, docs, abort)
				judgments[i] = j
				return outcome
			},
		}
	}
	counts := a.coord.Process(runCtx, tasks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cause := context.Cause(runCtx); classify.Fatal(cause) {
		return nil, eris.Wrapf(cause, "assessing %s", documentID)
	}
	if counts.Skipped > 0 {
		log.Warn("some citations are already being assessed", zap.Int("skipped", counts.Skipped))
	}

	syn, err := Synthesize(judgments)
	if err != nil {
		return nil, eris.Wrapf(err, "assessing %s", documentID)
	}

	assessment := &database.ImpactAssessment{
		DocumentID:              documentID,
		OverallClassification:   syn.Overall,
		Rationale:               syn.Rationale,
		ReviewerRecommendations: syn.Reviewers,
		ReaderRecommendations:   syn.Readers,
		ProblematicCount:        len(ids),
		RunID:                   opts.RunID,
	}
	for _, j := range judgments {
		assessment.Citations = append(assessment.Citations, database.CitationImpact{
			InstanceID:         j.InstanceID,
			ImpactLevel:        j.ImpactLevel,
			Centrality:         j.Centrality,
			AffectsMainFinding: j.AffectsMainFinding,
			UnderminedClaim:    j.UnderminedClaim,
			ReferenceFinding:   j.ReferenceFinding,
			Explanation:        j.Explanation,
		})
	}

	if err := a.budget.Do(ctx, func(ctx context.Context) error {
		return a.db.SaveImpactAssessment(ctx, assessment)
	}); err != nil {
		return nil, err
	}
	log.Info("impact assessed", zap.String("overall", syn.Overall),
		zap.Int("assessed", syn.Assessed), zap.Int("unassessed", syn.Unassessed))

	return a.db.GetImpactAssessment(ctx, documentID)
}

// judge runs Phase A for one instance. Failures produce an UNASSESSED
// judgment rather than an error.
func (a *Assessor) judge(ctx context.Context, citing *database.Document, instanceID int64,
	docs *retrieval.Documents, abort context.CancelCauseFunc) (Judgment, worker.Outcome) {
	unassessed := Judgment{InstanceID: instanceID, ImpactLevel: LevelUnassessed}
	log := zap.L().With(zap.Int64("instance_id", instanceID))

	inst, err := a.db.GetInstance(ctx, instanceID)
	if err != nil || inst == nil {
		log.Warn("loading instance failed", zap.Error(err))
		return unassessed, worker.Failed
	}
	history, err := a.db.ClassificationsForInstance(ctx, instanceID)
	if err != nil {
		log.Warn("loading classifications failed", zap.Error(err))
		return unassessed, worker.Failed
	}
	cited, err := docs.Get(ctx, inst.TargetDocumentID)
	if err != nil {
		log.Warn("loading cited document failed", zap.Error(err))
		return unassessed, worker.Failed
	}

	prompt := buildPrompt(citing, cited, *inst, history, a.maxChars)
	m, attempts, err := a.client.Call(ctx, prompt, validateJudgment)
	switch {
	case err == nil:
	case classify.Fatal(err):
		abort(err)
		return unassessed, worker.Failed
	case ctx.Err() != nil:
		return unassessed, worker.Cancelled
	default:
		log.Warn("impact judgment unavailable", zap.Int("attempts", attempts), zap.Error(err))
		unassessed.Explanation = err.Error()
		return unassessed, worker.Sentinel
	}
	j, _ := parseJudgment(m)
	j.InstanceID = instanceID
	return j, worker.Succeeded
}
