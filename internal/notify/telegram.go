package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Telegram talks to the bot HTTP API. One instance is shared by the whole
// service; the underlying http.Client handles connection reuse.
type Telegram struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewTelegram builds a bot client. baseURL defaults to the public API host;
// a self-hosted bot API server raises the upload ceiling.
func NewTelegram(baseURL, token string, logger *zap.Logger) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Document *struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

type apiTopic struct {
	MessageThreadID int64 `json:"message_thread_id"`
}

// SendMessage posts text to the destination.
func (t *Telegram) SendMessage(ctx context.Context, dest Destination, text string) (MessageRef, error) {
	form := url.Values{
		"chat_id": {strconv.FormatInt(dest.ChatID, 10)},
		"text":    {text},
	}
	if dest.TopicID != 0 {
		form.Set("message_thread_id", strconv.FormatInt(dest.TopicID, 10))
	}
	var msg apiMessage
	if err := t.call(ctx, "sendMessage", form, &msg); err != nil {
		return MessageRef{}, err
	}
	return MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// EditMessage replaces a sent message's text in place.
func (t *Telegram) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	form := url.Values{
		"chat_id":    {strconv.FormatInt(ref.ChatID, 10)},
		"message_id": {strconv.FormatInt(ref.MessageID, 10)},
		"text":       {text},
	}
	return t.call(ctx, "editMessageText", form, nil)
}

// DeleteMessage removes a sent message.
func (t *Telegram) DeleteMessage(ctx context.Context, ref MessageRef) error {
	form := url.Values{
		"chat_id":    {strconv.FormatInt(ref.ChatID, 10)},
		"message_id": {strconv.FormatInt(ref.MessageID, 10)},
	}
	return t.call(ctx, "deleteMessage", form, nil)
}

// SendFile uploads the file at path as a document and returns the
// server-side file reference of the uploaded document.
func (t *Telegram) SendFile(ctx context.Context, dest Destination, path, caption string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open artifact")
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeDocumentForm(mw, dest, f, filepath.Base(path), caption)
		mw.Close()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendDocument"), pr)
	if err != nil {
		return "", errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var msg apiMessage
	if err := t.do(req, "sendDocument", &msg); err != nil {
		return "", err
	}
	if msg.Document == nil {
		return "", nil
	}
	return msg.Document.FileID, nil
}

// SendFileRef delivers an already-uploaded document by its file reference.
func (t *Telegram) SendFileRef(ctx context.Context, dest Destination, fileID, caption string) error {
	form := url.Values{
		"chat_id":  {strconv.FormatInt(dest.ChatID, 10)},
		"document": {fileID},
	}
	if dest.TopicID != 0 {
		form.Set("message_thread_id", strconv.FormatInt(dest.TopicID, 10))
	}
	if caption != "" {
		form.Set("caption", caption)
	}
	return t.call(ctx, "sendDocument", form, nil)
}

// CreateTopic opens a new forum topic and returns its thread ID.
func (t *Telegram) CreateTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	form := url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"name":    {name},
	}
	var topic apiTopic
	if err := t.call(ctx, "createForumTopic", form, &topic); err != nil {
		return 0, err
	}
	return topic.MessageThreadID, nil
}

func (t *Telegram) call(ctx context.Context, method string, form url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method), strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrapf(err, "build %s request", method)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req, method, result)
}

func (t *Telegram) do(req *http.Request, method string, result any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call %s", method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(err, "read %s response", method)
	}
	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return errors.Wrapf(err, "decode %s response (status %d)", method, resp.StatusCode)
	}
	if !api.OK {
		return errors.Newf("%s: api error: %s", method, api.Description)
	}
	if result != nil {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return errors.Wrapf(err, "decode %s result", method)
		}
	}
	return nil
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

func writeDocumentForm(mw *multipart.Writer, dest Destination, r io.Reader, name, caption string) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(dest.ChatID, 10)); err != nil {
		return err
	}
	if dest.TopicID != 0 {
		if err := mw.WriteField("message_thread_id", strconv.FormatInt(dest.TopicID, 10)); err != nil {
			return err
		}
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, r)
	return err
}
