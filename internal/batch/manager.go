package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/1k-7/LNreqnw/internal/job"
	"github.com/1k-7/LNreqnw/internal/ledger"
	"github.com/1k-7/LNreqnw/internal/metrics"
	"github.com/1k-7/LNreqnw/internal/notify"
	"github.com/1k-7/LNreqnw/internal/novel"
	"github.com/1k-7/LNreqnw/internal/pool"
	"github.com/1k-7/LNreqnw/internal/progress"
)

// Deliverer routes a finished artifact to its destination and reports the
// transport used. *deliver.Router is the production implementation.
type Deliverer interface {
	Deliver(ctx context.Context, dest notify.Destination, path, caption string) (string, error)
}

// Config tunes the supervisor loops.
type Config struct {
	// Parallelism caps how many batch items run at once.
	Parallelism int
	// ProgressDepth sizes each job's progress channel.
	ProgressDepth int
	// PollInterval is the progress drain tick while a job runs.
	PollInterval time.Duration
	// EditInterval paces outward status edits per job.
	EditInterval time.Duration
	// StatusDest receives per-job status messages and batch summaries.
	StatusDest notify.Destination
	// TargetDest receives the delivered artifacts.
	TargetDest notify.Destination
}

// Manager runs batches end to end: dedupe, skip resolved identifiers,
// persist for crash recovery, dispatch to the pool, deliver artifacts and
// classify every terminal result in the ledger.
type Manager struct {
	pool     *pool.Pool
	ledger   *ledger.Ledger
	store    *Store
	notifier notify.Notifier
	router   Deliverer
	halt     *job.Halt
	cfg      Config
	logger   *zap.Logger

	// mu serializes batches: one batch is in flight at a time, matching
	// the persisted single-batch recovery model.
	mu sync.Mutex
}

// NewManager wires the supervisor.
func NewManager(
	p *pool.Pool,
	led *ledger.Ledger,
	store *Store,
	notifier notify.Notifier,
	router Deliverer,
	halt *job.Halt,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Manager{
		pool:     p,
		ledger:   led,
		store:    store,
		notifier: notifier,
		router:   router,
		halt:     halt,
		cfg:      cfg,
		logger:   logger,
	}
}

// Resume reprocesses a batch left behind by a crash or restart. A no-op
// when nothing was persisted.
func (m *Manager) Resume(ctx context.Context) error {
	ids, err := m.store.Load()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	m.logger.Info("resuming persisted batch", zap.Int("identifiers", len(ids)))
	return m.ProcessBatch(ctx, ids)
}

// ProcessBatch runs one batch to completion. Identifiers already classified
// in the ledger are skipped and counted; the rest run with the configured
// parallelism. The call returns when every item reached a terminal state.
func (m *Manager) ProcessBatch(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A batch halted mid-flight stays persisted; a new submission joins it
	// instead of erasing its unfinished remainder.
	merged := ids
	if prior, err := m.store.Load(); err != nil {
		m.logger.Warn("persisted batch load failed", zap.Error(err))
	} else if len(prior) > 0 {
		merged = append(append([]string(nil), prior...), ids...)
	}

	fresh, skipped := m.partition(merged)
	if len(fresh) == 0 {
		m.send(ctx, fmt.Sprintf("Batch finished: nothing new (%d already classified).", skipped))
		return m.store.Delete()
	}

	if err := m.store.Save(merged); err != nil {
		return errors.Wrap(err, "persist batch")
	}

	metrics.ObserveBatch(len(fresh))
	m.send(ctx, fmt.Sprintf("Batch accepted: %d new, %d skipped.", len(fresh), skipped))

	tally := m.dispatch(ctx, fresh)

	m.send(ctx, summaryText(tally, skipped))
	m.logger.Info("batch finished",
		zap.Int("delivered", tally[novel.OutcomeDelivered]),
		zap.Int("no_content", tally[novel.OutcomeNoContent]),
		zap.Int("generation_failed", tally[novel.OutcomeGenerationFailed]),
		zap.Int("transient", tally[novel.OutcomeTransient]),
		zap.Int("halted", tally[novel.OutcomeHalted]),
		zap.Int("skipped", skipped),
	)

	if tally[novel.OutcomeHalted] > 0 {
		// A halted batch stays persisted so the next start resumes it.
		return nil
	}
	return m.store.Delete()
}

// partition dedupes the submission preserving order and splits off the
// identifiers the ledger already classified.
func (m *Manager) partition(ids []string) (fresh []string, skipped int) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m.ledger.IsResolved(id) {
			skipped++
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh, skipped
}

func (m *Manager) dispatch(ctx context.Context, ids []string) map[novel.Outcome]int {
	tally := make(map[novel.Outcome]int)
	var tmu sync.Mutex
	sem := make(chan struct{}, m.cfg.Parallelism)
	var wg sync.WaitGroup

	for _, id := range ids {
		if m.halt.Raised() || ctx.Err() != nil {
			tmu.Lock()
			tally[novel.OutcomeHalted]++
			tmu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := m.runOne(ctx, id)
			tmu.Lock()
			tally[outcome]++
			tmu.Unlock()
		}(id)
	}
	wg.Wait()
	return tally
}

// runOne supervises a single identifier: a status message edited in place
// while the job runs, delivery on success, then exactly one ledger action
// per the classification rules. The status message is removed only after a
// delivery; every other outcome leaves its final edit standing as the
// visible record.
func (m *Manager) runOne(ctx context.Context, id string) novel.Outcome {
	started := time.Now()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	editor := notify.NewStatusEditor(m.notifier, editRate(m.cfg.EditInterval), m.logger)
	editor.Start(ctx, m.cfg.StatusDest, "Processing: "+id)

	prog := progress.NewChannel(m.cfg.ProgressDepth, m.logger)
	defer func() { metrics.AddProgressDropped(prog.Dropped()) }()

	handle, err := m.pool.Submit(ctx, id, prog)
	if err != nil {
		return m.classify(ctx, id, nil, errors.Wrap(err, "dispatch"), started, editor)
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case res := <-handle.Done():
			m.drain(ctx, prog, editor)
			return m.classify(ctx, id, res.ArtifactPaths, res.Err, started, editor)
		case <-ticker.C:
			m.drain(ctx, prog, editor)
		}
	}
}

func (m *Manager) drain(ctx context.Context, prog *progress.Channel, editor *notify.StatusEditor) {
	for {
		text, ok := prog.TryRecv()
		if !ok {
			return
		}
		editor.Update(ctx, text)
	}
}

// classify applies the ledger transition for one terminal result. A halted
// job touches nothing, so a later run starts it from scratch. A delivery
// failure records the error but leaves the identifier unclassified.
func (m *Manager) classify(
	ctx context.Context,
	id string,
	artifacts []string,
	runErr error,
	started time.Time,
	editor *notify.StatusEditor,
) novel.Outcome {
	outcome := novel.ClassifyError(runErr)
	recordErr := runErr
	if outcome == novel.OutcomeDelivered {
		outcome, recordErr = m.deliver(ctx, artifacts)
	}

	switch outcome {
	case novel.OutcomeDelivered:
		m.record(id, m.ledger.MarkCompleted(id))
		editor.Delete(ctx)
	case novel.OutcomeNoContent:
		m.record(id, m.ledger.MarkNoContent(id))
		editor.Finish(ctx, "No content: "+id)
	case novel.OutcomeGenerationFailed:
		m.record(id, m.ledger.MarkGenerationFailed(id))
		editor.Finish(ctx, "Generation failed: "+id)
	case novel.OutcomeHalted:
		editor.Finish(ctx, "Halted: "+id)
	default:
		m.record(id, m.ledger.RecordError(id, recordErr.Error()))
		editor.Finish(ctx, "Failed: "+id)
		m.logger.Warn("job failed", zap.String("identifier", id), zap.Error(recordErr))
	}

	metrics.ObserveJob(string(outcome), time.Since(started))
	return outcome
}

// deliver routes every artifact and folds the result into the outcome: a
// failed delivery is transient, never a completion, and the undelivered
// remainder stays on disk for the retry.
func (m *Manager) deliver(ctx context.Context, artifacts []string) (novel.Outcome, error) {
	if len(artifacts) == 0 {
		return novel.OutcomeGenerationFailed, nil
	}
	for _, artifact := range artifacts {
		caption := strings.TrimSuffix(filepath.Base(artifact), filepath.Ext(artifact))
		transport, err := m.router.Deliver(ctx, m.cfg.TargetDest, artifact, caption)
		if err != nil {
			metrics.ObserveDelivery(transport, "error")
			return novel.OutcomeTransient, errors.Wrap(err, "deliver artifact")
		}
		metrics.ObserveDelivery(transport, "ok")
	}
	return novel.OutcomeDelivered, nil
}

func (m *Manager) record(id string, err error) {
	if err != nil {
		m.logger.Error("ledger update failed", zap.String("identifier", id), zap.Error(err))
	}
}

func (m *Manager) send(ctx context.Context, text string) {
	if _, err := m.notifier.SendMessage(ctx, m.cfg.StatusDest, text); err != nil {
		m.logger.Warn("batch summary send failed", zap.Error(err))
	}
}

func summaryText(tally map[novel.Outcome]int, skipped int) string {
	return fmt.Sprintf(
		"Batch finished: %d delivered, %d no content, %d generation failed, %d failed, %d halted, %d skipped.",
		tally[novel.OutcomeDelivered],
		tally[novel.OutcomeNoContent],
		tally[novel.OutcomeGenerationFailed],
		tally[novel.OutcomeTransient],
		tally[novel.OutcomeHalted],
		skipped,
	)
}

func editRate(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
