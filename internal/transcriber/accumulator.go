package transcriber

import (
	"sync"

	"github.com/foxseedlab/kikitori/internal/speech"
)

// Accumulator folds utterance-level engine results into one session-wide
// hypothesis: committed final segments followed by the current interim ones.
type Accumulator struct {
	mu        sync.Mutex
	committed []speech.Segment
}

func (a *Accumulator) Apply(segments []speech.Segment, utteranceFinal, sessionFinal bool) speech.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	all := make([]speech.Segment, 0, len(a.committed)+len(segments))
	all = append(all, a.committed...)
	all = append(all, segments...)
	if utteranceFinal {
		a.committed = append(a.committed, segments...)
	}
	return speech.NewResult(all, sessionFinal)
}
