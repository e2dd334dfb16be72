// internal/notify/telegram.go

// Package notify implements the outbound messaging collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "streak-service/internal/errors"
)

const sendTimeout = 10 * time.Second

// TelegramMessenger sends plain-text messages through the Telegram Bot
// API.
type TelegramMessenger struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewTelegramMessenger creates a messenger for the given bot token.
func NewTelegramMessenger(token string, logger *slog.Logger) *TelegramMessenger {
	return &TelegramMessenger{
		baseURL: "https://api.telegram.org",
		token:   token,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one message. Failures are classified so callers can tell
// retryable transport problems from fatal ones (bad token, bad chat id).
func (m *TelegramMessenger) Send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return apperrors.NewInternal("encoding message", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", m.baseURL, m.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewInternal("building send request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return apperrors.NewTimeout("sending message", err)
	}
	defer resp.Body.Close()

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apperrors.NewUnavailable("decoding send response", err)
	}
	if out.OK {
		return nil
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewAuthInvalid(fmt.Errorf("telegram: %s", out.Description))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimited(fmt.Errorf("telegram: %s", out.Description))
	case resp.StatusCode >= 500:
		return apperrors.NewUnavailable("sending message", fmt.Errorf("telegram: %s", out.Description))
	}
	return apperrors.NewInternal("sending message", fmt.Errorf("telegram: %s", out.Description))
}
