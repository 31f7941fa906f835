package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"habitat/server/internal/models"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts staff alerts to a chat through the Bot API.
type Telegram struct {
	logger   *logrus.Logger
	client   *http.Client
	botToken string
	chatID   string
	baseURL  string
}

func NewTelegram(botToken, chatID string, logger *logrus.Logger) *Telegram {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Telegram{
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// apiReply is the envelope every Bot API method answers with.
type apiReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMessage posts an HTML message to the alert chat. A reply that is not
// ok is returned as an error carrying the API description.
func (t *Telegram) SendMessage(ctx context.Context, message string) error {
	if t.botToken == "" || t.chatID == "" {
		return errors.New("telegram alerts are not configured")
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  message,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	endpoint := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the request URL embeds the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var reply apiReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("telegram reply unreadable: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !reply.OK {
		if reply.Description == "" {
			reply.Description = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("telegram rejected alert (status %d): %s", resp.StatusCode, reply.Description)
	}
	return nil
}

// NotifyNewContact alerts staff about a contact submission
func (t *Telegram) NotifyNewContact(ctx context.Context, contact *models.Contact) error {
	optional := func(s *string) string {
		if s == nil || *s == "" {
			return "N/A"
		}
		return html.EscapeString(*s)
	}

	property := "N/A"
	if contact.PropertyID != nil {
		property = fmt.Sprintf("#%d", *contact.PropertyID)
	}

	message := fmt.Sprintf(
		"<b>New contact message</b>\n\n"+
			"👤 %s\n"+
			"✉️ %s\n"+
			"📞 %s\n"+
			"🏠 Property: %s\n"+
			"📝 %s\n\n"+
			"%s",
		html.EscapeString(contact.Name),
		optional(contact.Email),
		optional(contact.Phone),
		property,
		optional(contact.Subject),
		html.EscapeString(contact.Message),
	)

	if err := t.SendMessage(ctx, message); err != nil {
		return err
	}

	t.logger.WithField("contact_id", contact.ID).Info("Sent contact alert to Telegram")
	return nil
}
