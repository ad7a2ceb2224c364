package worker

import "sync"

// Counts summarizes one Process call.
type Counts struct {
	Selected  int
	Succeeded int
	Sentinel  int
	Failed    int
	Skipped   int
	Cancelled int
}

// Done returns how many tasks reached an outcome.
func (c Counts) Done() int {
	return c.Succeeded + c.Sentinel + c.Failed + c.Skipped
}

// Progress holds the counters of a single run.
type Progress struct {
	mu     sync.Mutex
	counts Counts
}

// NewProgress starts counters for a run of selected tasks.
func NewProgress(selected int) *Progress {
	return &Progress{counts: Counts{Selected: selected}}
}

// Record counts one finished task.
func (p *Progress) Record(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch o {
	case Succeeded:
		p.counts.Succeeded++
	case Sentinel:
		p.counts.Sentinel++
	case Failed:
		p.counts.Failed++
	case Skipped:
		p.counts.Skipped++
	case Cancelled:
		p.counts.Cancelled++
	}
}

// Cancel counts n tasks that never ran.
func (p *Progress) Cancel(n int) {
	p.mu.Lock()
	p.counts.Cancelled += n
	p.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (p *Progress) Snapshot() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}
