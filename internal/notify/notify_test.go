package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type recordingNotifier struct {
	Noop
	mu      sync.Mutex
	sends   []string
	edits   []string
	topics  []string
	deleted int
	nextID  int64
	editErr error
}

func (r *recordingNotifier) SendMessage(_ context.Context, _ Destination, text string) (MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, text)
	r.nextID++
	return MessageRef{ChatID: 1, MessageID: r.nextID}, nil
}

func (r *recordingNotifier) EditMessage(_ context.Context, _ MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.editErr != nil {
		return r.editErr
	}
	r.edits = append(r.edits, text)
	return nil
}

func (r *recordingNotifier) DeleteMessage(context.Context, MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted++
	return nil
}

func (r *recordingNotifier) CreateTopic(_ context.Context, _ int64, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, name)
	return int64(100 + len(r.topics)), nil
}

func TestStatusEditorSkipsUnchangedText(t *testing.T) {
	rec := &recordingNotifier{}
	ed := NewStatusEditor(rec, rate.Inf, zap.NewNop())
	ctx := context.Background()

	ed.Start(ctx, Destination{ChatID: 1}, "Processing...")
	ed.Update(ctx, "Processing...")
	ed.Update(ctx, "50%")
	ed.Update(ctx, "50%")
	ed.Update(ctx, "100%")

	assert.Equal(t, []string{"Processing..."}, rec.sends)
	assert.Equal(t, []string{"50%", "100%"}, rec.edits)
}

func TestStatusEditorPacesEdits(t *testing.T) {
	rec := &recordingNotifier{}
	// One edit per hour: only the first Allow succeeds within the test.
	ed := NewStatusEditor(rec, rate.Every(time.Hour), zap.NewNop())
	ctx := context.Background()

	ed.Start(ctx, Destination{ChatID: 1}, "start")
	ed.Update(ctx, "1%")
	ed.Update(ctx, "2%")
	ed.Update(ctx, "3%")

	require.Len(t, rec.edits, 1)
	assert.Equal(t, "1%", rec.edits[0])
}

func TestStatusEditorFinishBypassesPacer(t *testing.T) {
	rec := &recordingNotifier{}
	ed := NewStatusEditor(rec, rate.Every(time.Hour), zap.NewNop())
	ctx := context.Background()

	ed.Start(ctx, Destination{ChatID: 1}, "start")
	ed.Update(ctx, "1%")
	ed.Finish(ctx, "done")
	ed.Delete(ctx)

	assert.Equal(t, []string{"1%", "done"}, rec.edits)
	assert.Equal(t, 1, rec.deleted)
}

func TestStatusEditorNeverStartedIsInert(t *testing.T) {
	rec := &recordingNotifier{editErr: context.DeadlineExceeded}
	ed := NewStatusEditor(rec, rate.Inf, zap.NewNop())

	ed.Update(context.Background(), "text")
	ed.Finish(context.Background(), "text")
	ed.Delete(context.Background())

	assert.Empty(t, rec.edits)
	assert.Zero(t, rec.deleted)
}

func TestProvisionTopicsCreatesOnceAndPersists(t *testing.T) {
	rec := &recordingNotifier{}
	path := filepath.Join(t.TempDir(), "topics.json")

	b, err := ProvisionTopics(context.Background(), rec, -100123, path, TopicOverrides{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"Requests", "Errors", "Archive"}, rec.topics)
	assert.NotZero(t, b.Target)
	assert.NotZero(t, b.ErrorLog)
	assert.NotZero(t, b.Archive)

	// Second start loads the file and creates nothing new.
	again, err := ProvisionTopics(context.Background(), rec, -100123, path, TopicOverrides{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, b, again)
	assert.Len(t, rec.topics, 3)
}

func TestProvisionTopicsHonorsOverrides(t *testing.T) {
	rec := &recordingNotifier{}
	path := filepath.Join(t.TempDir(), "topics.json")

	b, err := ProvisionTopics(context.Background(), rec, -100123, path, TopicOverrides{Target: 7, ErrorLog: 8}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.Target)
	assert.Equal(t, int64(8), b.ErrorLog)
	assert.Equal(t, []string{"Archive"}, rec.topics)
}

func TestTelegramSendMessage(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 42,
				"chat":       map[string]any{"id": -100123},
			},
		})
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "secret", zap.NewNop())
	ref, err := tg.SendMessage(context.Background(), Destination{ChatID: -100123, TopicID: 9}, "hello")
	require.NoError(t, err)
	assert.Equal(t, MessageRef{ChatID: -100123, MessageID: 42}, ref)
	assert.Equal(t, "/botsecret/sendMessage", gotPath)
	assert.Equal(t, "hello", gotForm["text"])
	assert.Equal(t, "9", gotForm["message_thread_id"])
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "secret", zap.NewNop())
	err := tg.EditMessage(context.Background(), MessageRef{ChatID: 1, MessageID: 2}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramSendFileUploadsDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "-100123", r.FormValue("chat_id"))
		assert.Equal(t, "My Novel", r.FormValue("caption"))
		f, hdr, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "novel.zip", hdr.Filename)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 7,
				"chat":       map[string]any{"id": -100123},
				"document":   map[string]any{"file_id": "FID-1"},
			},
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "novel.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip-bytes"), 0o600))

	tg := NewTelegram(srv.URL, "secret", zap.NewNop())
	fileID, err := tg.SendFile(context.Background(), Destination{ChatID: -100123}, path, "My Novel")
	require.NoError(t, err)
	assert.Equal(t, "FID-1", fileID)
}
