package runner

import "sync"

// Token is the per-run cancellation signal. It is safe for concurrent use
// and cancelling twice is a no-op.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken returns an untriggered token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel signals the run to stop at its next check.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done is closed once Cancel was called.
func (t *Token) Done() <-chan struct{} { return t.done }

// Cancelled reports whether Cancel was called.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
