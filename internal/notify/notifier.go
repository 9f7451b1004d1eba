// Package notify is the outward messaging surface: status messages that get
// edited in place, finished artifacts, and relayed file references. The
// Telegram bot API is the production backend; everything above this package
// talks to the Notifier interface only.
package notify

import "context"

// Destination addresses a chat, optionally narrowed to a forum topic.
// A zero TopicID means the chat's general thread.
type Destination struct {
	ChatID  int64
	TopicID int64
}

// MessageRef identifies a sent message for later edits or deletion.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Notifier sends, edits and deletes outward messages and uploads artifacts.
//
// SendFileRef delivers by server-side file reference instead of uploading,
// which is how relayed large files reach their final destination.
type Notifier interface {
	SendMessage(ctx context.Context, dest Destination, text string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendFile(ctx context.Context, dest Destination, path, caption string) (string, error)
	SendFileRef(ctx context.Context, dest Destination, fileID, caption string) error
	CreateTopic(ctx context.Context, chatID int64, name string) (int64, error)
}

// Noop discards everything. Used when no token is configured, so the rest
// of the service runs without an outward surface.
type Noop struct{}

func (Noop) SendMessage(context.Context, Destination, string) (MessageRef, error) {
	return MessageRef{}, nil
}
func (Noop) EditMessage(context.Context, MessageRef, string) error        { return nil }
func (Noop) DeleteMessage(context.Context, MessageRef) error              { return nil }
func (Noop) SendFile(context.Context, Destination, string, string) (string, error) {
	return "", nil
}
func (Noop) SendFileRef(context.Context, Destination, string, string) error { return nil }
func (Noop) CreateTopic(context.Context, int64, string) (int64, error)      { return 0, nil }
