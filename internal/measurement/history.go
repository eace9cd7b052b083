package measurement

import "sync"

// History is the in-memory session history, newest first. It grows without
// bound and is lost on restart.
type History struct {
	mu      sync.RWMutex
	records []Record
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Prepend(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append([]Record{r}, h.records...)
}

// List returns a copy of the history, newest first.
func (h *History) List() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}
