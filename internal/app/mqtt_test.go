package app

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// pendingToken is a connect token that completes only if done is closed.
type pendingToken struct {
	done chan struct{}
	err  error
}

func (t *pendingToken) Wait() bool { <-t.done; return true }

func (t *pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *pendingToken) Done() <-chan struct{} { return t.done }
func (t *pendingToken) Error() error          { return t.err }

func completedToken(err error) *pendingToken {
	t := &pendingToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func TestWaitConnect(t *testing.T) {
	const broker = "tcp://broker:1883"

	if err := waitConnect(completedToken(nil), broker, time.Second); err != nil {
		t.Errorf("completed connect: %v", err)
	}

	refused := errors.New("connection refused")
	err := waitConnect(completedToken(refused), broker, time.Second)
	if !errors.Is(err, refused) || !strings.Contains(err.Error(), broker) {
		t.Errorf("failed connect = %v, want wrapped %v", err, refused)
	}

	err = waitConnect(&pendingToken{done: make(chan struct{})}, broker, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") || strings.Contains(err.Error(), "<nil>") {
		t.Errorf("timeout error = %q", err)
	}
}
