package testsuite

import (
	"slices"
	"sync"

	"github.com/thebandlist/presenced/core/presence"
)

// Recorder is a listener which records everything it's called with
type Recorder struct {
	calls []presence.Member
	mutex sync.Mutex
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Listener(u presence.UserID, s presence.Status) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.calls = append(r.calls, presence.Member{UserID: u, Status: s})
}

func (r *Recorder) Calls() []presence.Member {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return slices.Clone(r.calls)
}

// Statuses returns just the statuses recorded
func (r *Recorder) Statuses() []presence.Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	statuses := make([]presence.Status, len(r.calls))
	for i, c := range r.calls {
		statuses[i] = c.Status
	}
	return statuses
}

func (r *Recorder) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.calls)
}
