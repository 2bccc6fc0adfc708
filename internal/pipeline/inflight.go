package pipeline

import "sync"

// InFlight is the set of remote job ids currently owned by a task. The
// watcher skips them so a job is never reported twice.
type InFlight struct {
	mu  sync.Mutex
	ids map[string]int
}

func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[string]int)}
}

// Add claims id. Claims are counted, so two tasks on the same job both
// have to Remove it.
func (f *InFlight) Add(id string) {
	f.mu.Lock()
	f.ids[id]++
	f.mu.Unlock()
}

func (f *InFlight) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids[id] <= 1 {
		delete(f.ids, id)
		return
	}
	f.ids[id]--
}

// Has reports whether a task currently owns id.
func (f *InFlight) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id] > 0
}

func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
