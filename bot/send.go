package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	form := url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.methodURL("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := b.call(req); err != nil {
		b.log.Warn("sendMessage failed", "chat_id", chatID, "error", err)
	}
}

// sendPhoto uploads payload via multipart sendPhoto.
func (b *Bot) sendPhoto(ctx context.Context, chatID int64, payload []byte, caption string) error {
	return b.upload(ctx, "sendPhoto", "photo", "screenshot.png", chatID, payload, caption)
}

// sendDocument uploads payload via multipart sendDocument. Used for PDFs
// and images too large for a photo message.
func (b *Bot) sendDocument(ctx context.Context, chatID int64, filename string, payload []byte, caption string) error {
	return b.upload(ctx, "sendDocument", "document", filename, chatID, payload, caption)
}

func (b *Bot) upload(ctx context.Context, method, field, filename string, chatID int64, payload []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("bot: build %s: %w", method, err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("bot: build %s: %w", method, err)
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("bot: build %s: %w", method, err)
	}
	if _, err := part.Write(payload); err != nil {
		return fmt.Errorf("bot: build %s: %w", method, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("bot: build %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return b.call(req)
}

func (b *Bot) call(req *http.Request) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return fmt.Errorf("bot: decode response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("bot: %s: %s", req.URL.Path, body.Description)
	}
	return nil
}
