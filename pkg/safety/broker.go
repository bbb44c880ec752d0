package safety

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Approval wait outcomes.
var (
	// ErrNoPendingApproval indicates a verdict arrived for a session with
	// no outstanding request.
	ErrNoPendingApproval = errors.New("no pending approval for session")

	// ErrApprovalPending indicates a duplicate request for a session that
	// already waits on a verdict.
	ErrApprovalPending = errors.New("approval already pending for session")
)

// Verdict is the outcome of one approval wait.
type Verdict struct {
	Approved bool
	By       string
	TimedOut bool
}

// ApprovalBroker matches in-flight approval waits with verdicts arriving
// from the control surface. One pending request per session.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]chan Verdict
}

// NewApprovalBroker returns an empty broker.
func NewApprovalBroker() *ApprovalBroker {
	return &ApprovalBroker{pending: make(map[string]chan Verdict)}
}

// Await blocks until a verdict for sessionID arrives, the timeout
// elapses, or ctx is cancelled. Timeout and cancellation report as a
// timed-out verdict, which callers treat as blocked rather than failed.
func (b *ApprovalBroker) Await(ctx context.Context, sessionID string, timeout time.Duration) (Verdict, error) {
	ch := make(chan Verdict, 1)

	b.mu.Lock()
	if _, exists := b.pending[sessionID]; exists {
		b.mu.Unlock()
		return Verdict{}, ErrApprovalPending
	}
	b.pending[sessionID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, sessionID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return Verdict{TimedOut: true}, nil
	case <-ctx.Done():
		return Verdict{TimedOut: true}, ctx.Err()
	}
}

// Resolve delivers a verdict for a waiting session.
func (b *ApprovalBroker) Resolve(sessionID string, approved bool, by string) error {
	b.mu.Lock()
	ch, ok := b.pending[sessionID]
	if ok {
		delete(b.pending, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return ErrNoPendingApproval
	}
	ch <- Verdict{Approved: approved, By: by}
	return nil
}

// Pending lists session ids with outstanding approval requests.
func (b *ApprovalBroker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}
