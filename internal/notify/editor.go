package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusEditor maintains one in-place status message for a running job.
// Updates are best effort: unchanged text is skipped, edits are paced by a
// rate limiter, and transport failures are logged and swallowed so the job
// itself never stalls on the outward surface.
type StatusEditor struct {
	notifier Notifier
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu       sync.Mutex
	ref      MessageRef
	started  bool
	lastText string
}

// NewStatusEditor builds an editor that paces edits at the given rate,
// e.g. rate.Every(5 * time.Second) for one edit per five seconds.
func NewStatusEditor(notifier Notifier, limit rate.Limit, logger *zap.Logger) *StatusEditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if limit > 0 {
		limiter = rate.NewLimiter(limit, 1)
	}
	return &StatusEditor{
		notifier: notifier,
		limiter:  limiter,
		logger:   logger,
	}
}

// Start posts the initial status message.
func (e *StatusEditor) Start(ctx context.Context, dest Destination, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, err := e.notifier.SendMessage(ctx, dest, text)
	if err != nil {
		e.logger.Warn("status message send failed", zap.Error(err))
		return
	}
	e.ref = ref
	e.started = true
	e.lastText = text
}

// Update edits the status message when the text changed and the pacing
// limiter allows it.
func (e *StatusEditor) Update(ctx context.Context, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || text == "" || text == e.lastText {
		return
	}
	if !e.limiter.Allow() {
		return
	}
	if err := e.notifier.EditMessage(ctx, e.ref, text); err != nil {
		e.logger.Debug("status edit failed", zap.Error(err))
		return
	}
	e.lastText = text
}

// Finish replaces the status text one last time, bypassing the pacer.
func (e *StatusEditor) Finish(ctx context.Context, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || text == e.lastText {
		return
	}
	if err := e.notifier.EditMessage(ctx, e.ref, text); err != nil {
		e.logger.Debug("final status edit failed", zap.Error(err))
		return
	}
	e.lastText = text
}

// Delete removes the status message, typically after its job delivered.
func (e *StatusEditor) Delete(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	if err := e.notifier.DeleteMessage(ctx, e.ref); err != nil {
		e.logger.Debug("status delete failed", zap.Error(err))
	}
	e.started = false
}
