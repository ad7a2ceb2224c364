package screening

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/retrieval"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/worker"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	onCall   func()
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ int) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.onCall != nil {
		m.onCall()
	}
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// vocabEmbedder embeds text as counts of a small vocabulary.
type vocabEmbedder struct{}

func (vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	vocab := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(vocab))
		for _, tok := range retrieval.Tokenize(text) {
			for j, w := range vocab {
				if tok == w {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedCorpus stores a citing paper "src" with two instances citing "ref".
// The first has strong evidence; the second matches nothing above 0.7.
func seedCorpus(t *testing.T, db *database.DB) (strong, weak int64) {
	t.Helper()
	ctx := context.Background()
	docs := []*database.Document{
		{ID: "src", Title: "Citing paper", Sections: []database.Section{{Label: "Introduction", Text: "..."}}},
		{ID: "ref", Title: "Cited paper", Abstract: "An abstract that mentions delta only.", Sections: []database.Section{
			{Label: "Introduction", Text: "alpha alpha results confirm the alpha effect strongly"},
			{Label: "Results", Text: "alpha and beta were measured in tandem here\n\nalpha beta gamma all appear in this paragraph"},
		}},
	}
	for _, d := range docs {
		if err := db.UpsertDocument(ctx, d); err != nil {
			t.Fatalf("UpsertDocument: %v", err)
		}
	}
	edge, err := db.UpsertEdge(ctx, "src", "ref")
	if err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	strong, _, err = db.InsertInstance(ctx, &database.CitationInstance{
		EdgeID: edge, InstanceKey: "c1", Section: "Introduction",
		Context: "Prior work showed the alpha effect [1].",
	})
	if err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	weak, _, err = db.InsertInstance(ctx, &database.CitationInstance{
		EdgeID: edge, InstanceKey: "c2", Section: "Discussion",
		Context: "Gamma drives delta and epsilon [1].",
	})
	if err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	return strong, weak
}

func newScreener(db *database.DB, p llm.Provider, workers int) *Screener {
	retriever := retrieval.NewRetriever(vocabEmbedder{}, 20, 20)
	client := classify.NewClient(p, nil, nil, classify.Config{Model: "screen-model", MaxAttempts: 2})
	return NewScreener(db, retriever, client, worker.NewCoordinator(workers), worker.NewBudget(2),
		retrieval.Options{TopK: 5, MinScore: 0.7})
}

const supportJSON = `{"classification": "SUPPORT", "confidence": 0.9, "justification": "The introduction states it."}`

func TestScreenCommitsVerdictAndEvidence(t *testing.T) {
	db := openTestDB(t)
	strong, weak := seedCorpus(t, db)
	p := &mockProvider{response: supportJSON}

	r, err := newScreener(db, p, 4).Run(context.Background(), Options{RunID: "run-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Selected != 2 || r.Succeeded != 2 || r.NoEvidence != 1 {
		t.Errorf("unexpected result %+v", r)
	}
	if p.Calls() != 1 {
		t.Errorf("expected 1 model call, got %d", p.Calls())
	}

	ctx := context.Background()
	c, _ := db.GetClassification(ctx, strong, database.RoundFirst)
	if c == nil || c.Category != "SUPPORT" || c.RunID != "run-1" || c.Model != "screen-model" {
		t.Fatalf("unexpected classification %+v", c)
	}
	if c.EvidenceQuality == nil || c.EvidenceConfidence == "" {
		t.Error("expected evidence quality to be stored")
	}
	ev, _ := db.GetEvidence(ctx, strong, database.RoundFirst)
	if len(ev) != 2 {
		t.Fatalf("expected 2 evidence segments, got %d", len(ev))
	}
	for _, seg := range ev {
		if seg.SimilarityScore < 0.7 || seg.RetrievalMethod != retrieval.MethodHybrid {
			t.Errorf("unexpected segment %+v", seg)
		}
	}

	c, _ = db.GetClassification(ctx, weak, database.RoundFirst)
	if c == nil || c.Category != string(classify.NotSubstantiate) || c.Confidence != 0.6 {
		t.Fatalf("expected deterministic NOT_SUBSTANTIATE, got %+v", c)
	}
	if c.Rationale != classify.NoEvidenceRationale {
		t.Errorf("unexpected rationale %q", c.Rationale)
	}
	if ev, _ := db.GetEvidence(ctx, weak, database.RoundFirst); len(ev) != 0 {
		t.Errorf("expected no evidence, got %d", len(ev))
	}
}

func TestScreenIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	strong, _ := seedCorpus(t, db)
	p := &mockProvider{response: supportJSON}
	s := newScreener(db, p, 2)

	if _, err := s.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	r, err := s.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Selected != 0 {
		t.Errorf("second run selected %d instances", r.Selected)
	}
	if p.Calls() != 1 {
		t.Errorf("expected no extra model calls, got %d", p.Calls())
	}
	if ev, _ := db.GetEvidence(context.Background(), strong, database.RoundFirst); len(ev) != 2 {
		t.Errorf("evidence must not be duplicated, got %d", len(ev))
	}
}

func TestScreenLimit(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	r, err := newScreener(db, &mockProvider{response: supportJSON}, 2).Run(context.Background(), Options{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.Selected != 1 {
		t.Errorf("expected 1 selected, got %d", r.Selected)
	}
	pending, _ := db.PendingScreening(context.Background(), 0)
	if len(pending) != 1 {
		t.Errorf("expected 1 instance left, got %d", len(pending))
	}
}

func TestScreenPersistsSentinelOnModelFailure(t *testing.T) {
	db := openTestDB(t)
	strong, _ := seedCorpus(t, db)
	p := &mockProvider{err: &llm.StatusError{Provider: "test", Code: 503}}

	r, err := newScreener(db, p, 2).Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Sentinel != 1 || r.Succeeded != 1 {
		t.Errorf("expected 1 sentinel and 1 no-evidence success, got %+v", r)
	}
	c, _ := db.GetClassification(context.Background(), strong, database.RoundFirst)
	if c == nil || c.Category != string(classify.EvalFailed) || c.Attempts != 2 {
		t.Errorf("expected EVAL_FAILED after 2 attempts, got %+v", c)
	}
}

func TestScreenPersistenceFailureLeavesInstancePending(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	s := newScreener(db, &mockProvider{response: supportJSON}, 2)
	s.commit = func(context.Context, *database.Classification, []database.EvidenceSegment) error {
		return errors.New("disk full")
	}

	r, err := s.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Failed != 2 {
		t.Errorf("expected 2 failed, got %+v", r)
	}
	pending, _ := db.PendingScreening(context.Background(), 0)
	if len(pending) != 2 {
		t.Errorf("expected both instances still pending, got %d", len(pending))
	}
}

func TestScreenCancelledWritesNothing(t *testing.T) {
	db := openTestDB(t)
	strong, _ := seedCorpus(t, db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &mockProvider{err: context.Canceled, onCall: cancel}

	r, err := newScreener(db, p, 1).Run(ctx, Options{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.Cancelled != 1 || r.Failed != 0 {
		t.Errorf("an interrupted instance counts as cancelled, got %+v", r)
	}
	if c, _ := db.GetClassification(context.Background(), strong, database.RoundFirst); c != nil {
		t.Errorf("cancelled instance must not be classified, got %+v", c)
	}
	if ev, _ := db.GetEvidence(context.Background(), strong, database.RoundFirst); len(ev) != 0 {
		t.Errorf("cancelled instance must not have evidence, got %d", len(ev))
	}
}

func TestScreenRejectedKeyStopsRun(t *testing.T) {
	db := openTestDB(t)
	strong, weak := seedCorpus(t, db)
	p := &mockProvider{err: &llm.StatusError{Provider: "OpenAI", Code: 401, Body: "invalid api key"}}

	r, err := newScreener(db, p, 1).Run(context.Background(), Options{})
	if !errors.Is(err, classify.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if p.Calls() != 1 {
		t.Errorf("expected one model call before stopping, got %d", p.Calls())
	}
	if r == nil || r.Failed != 1 || r.Cancelled != 1 || r.Sentinel != 0 {
		t.Errorf("unexpected result %+v", r)
	}
	for _, id := range []int64{strong, weak} {
		if c, _ := db.GetClassification(context.Background(), id, database.RoundFirst); c != nil {
			t.Errorf("instance %d must stay unclassified, got %+v", id, c)
		}
	}
}

func TestConcurrentRunsCommitOnce(t *testing.T) {
	db := openTestDB(t)
	strong, weak := seedCorpus(t, db)

	slowCommit := func(ctx context.Context, c *database.Classification, ev []database.EvidenceSegment) error {
		time.Sleep(50 * time.Millisecond)
		return db.CommitClassification(ctx, c, ev)
	}
	a := newScreener(db, &mockProvider{response: supportJSON}, 2)
	b := newScreener(db, &mockProvider{response: supportJSON}, 2)
	a.commit, b.commit = slowCommit, slowCommit

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, s := range []*Screener{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Run(context.Background(), Options{})
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			results[i] = r
		}()
	}
	wg.Wait()

	if results[0] == nil || results[1] == nil {
		t.Fatal("missing results")
	}
	if got := results[0].Succeeded + results[1].Succeeded; got != 2 {
		t.Errorf("expected exactly 2 committed classifications, got %d", got)
	}
	if results[0].Failed+results[1].Failed != 0 {
		t.Errorf("unexpected failures %+v %+v", results[0], results[1])
	}

	ctx := context.Background()
	for _, id := range []int64{strong, weak} {
		rounds, _ := db.ClassificationsForInstance(ctx, id)
		if len(rounds) != 1 {
			t.Errorf("instance %d has %d classifications", id, len(rounds))
		}
	}
	if ev, _ := db.GetEvidence(ctx, strong, database.RoundFirst); len(ev) != 2 {
		t.Errorf("expected one evidence set of 2 segments, got %d", len(ev))
	}
}

func TestMissingCitedDocumentHasNoEvidence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	edge, _ := db.UpsertEdge(ctx, "src", "unknown")
	id, _, _ := db.InsertInstance(ctx, &database.CitationInstance{EdgeID: edge, InstanceKey: "x", Context: "alpha [9]"})

	p := &mockProvider{response: supportJSON}
	r, err := newScreener(db, p, 1).Run(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.NoEvidence != 1 || p.Calls() != 0 {
		t.Errorf("expected no-evidence verdict without a model call, got %+v and %d calls", r, p.Calls())
	}
	c, _ := db.GetClassification(ctx, id, database.RoundFirst)
	if c == nil || c.Category != string(classify.NotSubstantiate) {
		t.Errorf("unexpected classification %+v", c)
	}
}
