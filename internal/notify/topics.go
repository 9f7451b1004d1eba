package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Bindings are the provisioned forum topic IDs the service posts into.
type Bindings struct {
	Target   int64 `json:"target"`
	ErrorLog int64 `json:"error_log"`
	Archive  int64 `json:"archive"`
}

// TopicOverrides pins topic IDs from configuration, skipping provisioning
// for the pinned ones.
type TopicOverrides struct {
	Target   int64
	ErrorLog int64
}

// ProvisionTopics returns the topic bindings for the log chat, creating the
// missing topics once and persisting the result at path. Subsequent starts
// load the file and create nothing.
func ProvisionTopics(
	ctx context.Context,
	notifier Notifier,
	chatID int64,
	path string,
	overrides TopicOverrides,
	logger *zap.Logger,
) (Bindings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var b Bindings
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &b); err != nil {
			return Bindings{}, errors.Wrap(err, "decode topic bindings")
		}
	case os.IsNotExist(err):
	default:
		return Bindings{}, errors.Wrap(err, "read topic bindings")
	}

	if overrides.Target != 0 {
		b.Target = overrides.Target
	}
	if overrides.ErrorLog != 0 {
		b.ErrorLog = overrides.ErrorLog
	}

	created := false
	ensure := func(current *int64, name string) error {
		if *current != 0 {
			return nil
		}
		id, err := notifier.CreateTopic(ctx, chatID, name)
		if err != nil {
			return errors.Wrapf(err, "create topic %q", name)
		}
		logger.Info("forum topic created", zap.String("name", name), zap.Int64("topic_id", id))
		*current = id
		created = true
		return nil
	}
	if err := ensure(&b.Target, "Requests"); err != nil {
		return Bindings{}, err
	}
	if err := ensure(&b.ErrorLog, "Errors"); err != nil {
		return Bindings{}, err
	}
	if err := ensure(&b.Archive, "Archive"); err != nil {
		return Bindings{}, err
	}

	if created {
		if err := saveBindings(path, b); err != nil {
			return Bindings{}, err
		}
	}
	return b, nil
}

func saveBindings(path string, b Bindings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(err, "create bindings dir")
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode topic bindings")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write topic bindings")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "replace topic bindings")
	}
	return nil
}
