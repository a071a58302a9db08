package scanner

import "sync"

// Transcript records which events a run has produced. It stands in for
// searching the whole accumulated console text: an event, once seen, stays
// seen until Reset.
type Transcript struct {
	mu   sync.RWMutex
	seen map[Event]int
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{seen: make(map[Event]int)}
}

// Observe records the given signals.
func (t *Transcript) Observe(signals []Signal) {
	if len(signals) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range signals {
		t.seen[s.Event]++
	}
}

// Seen reports whether the event occurred since the last Reset.
func (t *Transcript) Seen(e Event) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[e] > 0
}

// Count returns how often the event occurred since the last Reset.
func (t *Transcript) Count(e Event) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[e]
}

// Unsafe reports whether world generation has started but not finished.
// Stopping the worker in this window can corrupt the world.
func (t *Transcript) Unsafe() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[WorldGenerationStarted] > 0 && t.seen[WorldGenerationFinished] == 0
}

// Ready reports whether the worker has announced it accepts commands.
func (t *Transcript) Ready() bool {
	return t.Seen(WorkerReady)
}

// Reset forgets everything. Called at the start of each run.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[Event]int)
}
