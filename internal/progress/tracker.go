package progress

import (
	"fmt"
	"sync"

	"github.com/satriahrh/narrasi/domain/entities"
)

// Stage boundaries on the 0-100 scale
const (
	SynthesisEnd  = 80.0
	AssemblyEnd   = 90.0
	RepetitionEnd = 95.0
	UploadEnd     = 100.0
)

// Tracker turns pipeline milestones into progress events. Percent never
// decreases even though segments finish in any order, and nothing is
// emitted after the terminal event.
type Tracker struct {
	mu       sync.Mutex
	out      Emitter
	last     float64
	terminal bool

	segments int
	done     map[int]bool
	partial  map[int]float64
}

// NewTracker creates a tracker writing to out
func NewTracker(out Emitter) *Tracker {
	if out == nil {
		out = Discard
	}
	return &Tracker{
		out:     out,
		done:    make(map[int]bool),
		partial: make(map[int]float64),
	}
}

// Percent returns the last emitted percent
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Update emits percent, raised to the last emitted value if lower
func (t *Tracker) Update(percent float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(percent, message)
}

func (t *Tracker) emitLocked(percent float64, message string) {
	if t.terminal {
		return
	}
	if percent > UploadEnd {
		percent = UploadEnd
	}
	if percent < t.last {
		percent = t.last
	}
	t.last = percent
	t.out.Emit(Event{Type: EventProgress, Percent: percent, Message: message})
}

// StartSynthesis sets the number of segments the synthesis stage covers
func (t *Tracker) StartSynthesis(segments int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = segments
	t.emitLocked(0, fmt.Sprintf("Synthesizing %d segments", segments))
}

// ChunkDone records that done of total chunks of a segment are finished
func (t *Tracker) ChunkDone(segment, done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total > 0 && !t.done[segment] {
		t.partial[segment] = float64(done) / float64(total)
	}
	t.emitLocked(t.synthesisPercentLocked(), fmt.Sprintf("Segment %d: chunk %d of %d", segment, done, total))
}

// SegmentDone records that a segment finished, successfully or not
func (t *Tracker) SegmentDone(segment int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done[segment] = true
	delete(t.partial, segment)
	t.emitLocked(t.synthesisPercentLocked(), message)
}

func (t *Tracker) synthesisPercentLocked() float64 {
	if t.segments <= 0 {
		return t.last
	}
	units := float64(len(t.done))
	for _, p := range t.partial {
		units += p
	}
	return SynthesisEnd * units / float64(t.segments)
}

// Complete emits the terminal complete event
func (t *Tracker) Complete(result *entities.VoiceoverResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal {
		return
	}
	t.terminal = true
	t.last = UploadEnd
	t.out.Emit(Event{Type: EventComplete, Percent: UploadEnd, Result: result})
}

// Fail emits the terminal error event
func (t *Tracker) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal {
		return
	}
	t.terminal = true
	t.out.Emit(Event{Type: EventError, Message: message})
}
