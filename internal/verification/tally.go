package verification

import (
	"sync"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
)

type determinations struct {
	mu        sync.Mutex
	confirmed int
	corrected int
}

func (d *determinations) add(det string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch det {
	case classify.Confirmed:
		d.confirmed++
	case classify.Corrected:
		d.corrected++
	}
}

func (d *determinations) get() (confirmed, corrected int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.confirmed, d.corrected
}
