package deliver

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/metrics"
)

// ErrRelayTimeout marks a relay hand-off that was never resolved within
// the bounded wait.
var ErrRelayTimeout = errors.New("relay hand-off timed out")

// Relay coordinates the large-file hand-off. The router announces an
// artifact under a fresh correlation token and blocks until an external
// uploader resolves the token with a server-side file reference, or the
// wait expires.
type Relay struct {
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan string
}

// NewRelay builds a Relay with the given resolution wait.
func NewRelay(timeout time.Duration, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan string),
	}
}

// Begin registers a fresh correlation token and returns it with its
// resolution channel. The caller must end the wait with Await or the token
// leaks until process exit.
func (r *Relay) Begin() (string, <-chan string) {
	token := uuid.NewString()
	ch := make(chan string, 1)
	r.mu.Lock()
	r.pending[token] = ch
	metrics.SetRelayPending(len(r.pending))
	r.mu.Unlock()
	return token, ch
}

// Await blocks until the token resolves, the wait expires, or ctx ends.
// The token is deregistered on every path.
func (r *Relay) Await(ctx context.Context, token string, ch <-chan string) (string, error) {
	defer r.drop(token)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case fileID := <-ch:
		return fileID, nil
	case <-timer.C:
		return "", errors.Wrapf(ErrRelayTimeout, "token %s after %s", token, r.timeout)
	case <-ctx.Done():
		return "", errors.Wrapf(ctx.Err(), "relay wait for token %s", token)
	}
}

// Resolve completes a pending hand-off with the uploaded file reference.
// Unknown or already-resolved tokens report false.
func (r *Relay) Resolve(token, fileID string) bool {
	r.mu.Lock()
	ch, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
		metrics.SetRelayPending(len(r.pending))
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("relay resolution for unknown token", zap.String("token", token))
		return false
	}
	ch <- fileID
	return true
}

// Pending reports how many hand-offs are waiting for resolution.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Relay) drop(token string) {
	r.mu.Lock()
	delete(r.pending, token)
	metrics.SetRelayPending(len(r.pending))
	r.mu.Unlock()
}
