// Package deliver routes finished artifacts to their destination. Small
// artifacts upload directly; artifacts past the upload ceiling go through a
// token-correlated relay hand-off to an external uploader.
package deliver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/notify"
)

// Transport labels how an artifact reached its destination.
const (
	TransportDirect = "direct"
	TransportRelay  = "relay"
)

// Config sets the size thresholds in megabytes. Artifacts at or above
// RelayThresholdMB take the relay path; without a relay, artifacts above
// HardLimitMB cannot be delivered at all.
type Config struct {
	RelayThresholdMB float64
	HardLimitMB      float64
}

// Router picks the transport for each artifact by size.
type Router struct {
	notifier notify.Notifier
	relay    *Relay
	// relayDest receives the hand-off announcements the uploader watches.
	relayDest notify.Destination
	cfg       Config
	logger    *zap.Logger
}

// NewRouter builds a Router. A nil relay disables the relay path entirely.
func NewRouter(notifier notify.Notifier, relay *Relay, relayDest notify.Destination, cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		notifier:  notifier,
		relay:     relay,
		relayDest: relayDest,
		cfg:       cfg,
		logger:    logger,
	}
}

// Deliver sends the artifact at path to dest with the given caption and
// returns the transport used. The artifact file is removed only after a
// successful delivery; on failure it stays on disk for a later retry.
func (r *Router) Deliver(ctx context.Context, dest notify.Destination, path, caption string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "stat artifact")
	}
	sizeMB := float64(info.Size()) / (1 << 20)

	var transport string
	switch {
	case sizeMB < r.cfg.RelayThresholdMB:
		transport = TransportDirect
		err = r.direct(ctx, dest, path, caption)
	case r.relay != nil:
		transport = TransportRelay
		err = r.relayed(ctx, dest, path, caption, sizeMB)
	case sizeMB <= r.cfg.HardLimitMB:
		transport = TransportDirect
		err = r.direct(ctx, dest, path, caption)
	default:
		return "", errors.Newf("artifact %s is %.1f MB, over the %.0f MB limit and no relay is configured",
			filepath.Base(path), sizeMB, r.cfg.HardLimitMB)
	}
	if err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		r.logger.Warn("delivered artifact not removed", zap.String("path", path), zap.Error(err))
	}
	r.logger.Info("artifact delivered",
		zap.String("artifact", filepath.Base(path)),
		zap.String("transport", transport),
		zap.Float64("size_mb", sizeMB),
	)
	return transport, nil
}

func (r *Router) direct(ctx context.Context, dest notify.Destination, path, caption string) error {
	if _, err := r.notifier.SendFile(ctx, dest, path, caption); err != nil {
		return errors.Wrap(err, "direct upload")
	}
	return nil
}

// relayed announces the artifact under a fresh token and waits for an
// external uploader to resolve the token with a file reference, which is
// then forwarded to the destination.
func (r *Router) relayed(ctx context.Context, dest notify.Destination, path, caption string, sizeMB float64) error {
	token, ch := r.relay.Begin()
	announcement := fmt.Sprintf("relay-upload %s %s (%.1f MB)", token, path, sizeMB)
	if _, err := r.notifier.SendMessage(ctx, r.relayDest, announcement); err != nil {
		r.relay.drop(token)
		return errors.Wrap(err, "announce relay hand-off")
	}

	fileID, err := r.relay.Await(ctx, token, ch)
	if err != nil {
		return err
	}
	if err := r.notifier.SendFileRef(ctx, dest, fileID, caption); err != nil {
		return errors.Wrap(err, "forward relayed file")
	}
	return nil
}
