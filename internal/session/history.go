package session

// DefaultConsoleHistory is the number of console lines kept when no limit
// is configured.
const DefaultConsoleHistory = 2000

// history is a bounded line buffer. Only the loop touches it.
type history struct {
	lines []string
	start int
	limit int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultConsoleHistory
	}
	return &history{limit: limit}
}

func (h *history) add(line string) {
	if len(h.lines) < h.limit {
		h.lines = append(h.lines, line)
		return
	}
	h.lines[h.start] = line
	h.start = (h.start + 1) % h.limit
}

func (h *history) snapshot() []string {
	out := make([]string, 0, len(h.lines))
	out = append(out, h.lines[h.start:]...)
	out = append(out, h.lines[:h.start]...)
	return out
}

func (h *history) reset() {
	h.lines = nil
	h.start = 0
}
