package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/screen-watchdog/internal/failure"
)

// DefaultTelegramURL is the Telegram Bot API endpoint
const DefaultTelegramURL = "https://api.telegram.org"

const tokenGuidance = "check TELEGRAM_BOT_TOKEN; create or reset it with @BotFather"

// Telegram is a Bot API client. Anyone who has messaged the bot recently is
// a recipient.
type Telegram struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTelegram creates a Telegram client. An empty baseURL uses the public API.
func NewTelegram(token, baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *chatRef `json:"message"`
	EditedMessage *chatRef `json:"edited_message"`
	ChannelPost   *chatRef `json:"channel_post"`
}

type chatRef struct {
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// Recipients returns the chat ids found in the pending updates, in the order
// they first appear
func (t *Telegram) Recipients(ctx context.Context) ([]Recipient, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.methodURL("getUpdates"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	result, err := t.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("getting updates: %w", err)
	}

	var updates []update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, failure.Transient(fmt.Errorf("decoding updates: %w", err))
	}

	seen := make(map[Recipient]struct{})
	recipients := make([]Recipient, 0)
	for _, u := range updates {
		for _, ref := range []*chatRef{u.Message, u.EditedMessage, u.ChannelPost} {
			if ref == nil || ref.Chat.ID == 0 {
				continue
			}
			r := Recipient(ref.Chat.ID)
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			recipients = append(recipients, r)
		}
	}
	return recipients, nil
}

// SendPhoto uploads the image at imagePath to one chat
func (t *Telegram) SendPhoto(ctx context.Context, recipient Recipient, imagePath, caption string) error {
	photo, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", recipient.String()); err != nil {
		return fmt.Errorf("writing chat_id: %w", err)
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return fmt.Errorf("writing caption: %w", err)
	}
	part, err := writer.CreateFormFile("photo", filepath.Base(imagePath))
	if err != nil {
		return fmt.Errorf("creating photo part: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("writing photo part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendPhoto"), &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if _, err := t.do(ctx, req); err != nil {
		return fmt.Errorf("sending photo to %s: %w", recipient, err)
	}
	return nil
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

// do runs the request and classifies failures. The token is part of the URL,
// so transport errors are reported without it.
func (t *Telegram) do(ctx context.Context, req *http.Request) (json.RawMessage, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Transient(fmt.Errorf("calling telegram API: %s", t.redact(err.Error())))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Transient(fmt.Errorf("reading response: %w", err))
	}

	var parsed apiResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode == http.StatusOK && decodeErr == nil && parsed.OK {
		return parsed.Result, nil
	}

	description := parsed.Description
	if decodeErr != nil || description == "" {
		description = strings.TrimSpace(string(body))
	}
	apiErr := fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, description)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return nil, failure.Permanent(apiErr, tokenGuidance)
	case resp.StatusCode == http.StatusForbidden:
		return nil, failure.Permanent(apiErr, "the chat blocked the bot or the bot was removed from it")
	case resp.StatusCode == http.StatusConflict:
		return nil, failure.Permanent(apiErr, "the bot has a webhook set; remove it with deleteWebhook to poll for subscribers")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, failure.Transient(apiErr)
	case resp.StatusCode == http.StatusOK:
		return nil, failure.Transient(fmt.Errorf("unexpected telegram response: %s", description))
	default:
		return nil, failure.Permanent(apiErr, "")
	}
}

func (t *Telegram) redact(s string) string {
	if t.token == "" {
		return s
	}
	return strings.ReplaceAll(s, t.token, "<token>")
}
