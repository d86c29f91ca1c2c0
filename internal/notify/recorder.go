package notify

import (
	"context"
	"sync"
)

// Recorder implements Notifier for testing. It keeps every notification it
// receives and can be told to fail.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records n. When a failure is set, n is still recorded and the
// error is returned.
func (r *Recorder) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

// Fail makes subsequent Notify calls return err. Nil clears it.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Sent returns a copy of all recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Titles returns the titles of all recorded notifications.
func (r *Recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Title)
	}
	return out
}

// Count returns the number of recorded notifications.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// Reset clears recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
