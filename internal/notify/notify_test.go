package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/server/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestSMTPMailerSend(t *testing.T) {
	mailer := NewSMTPMailer("smtp.habitat.com", 587, "user", "pass", "noreply@habitat.com", quietLogger())
	mailer.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	mailer.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	err := mailer.Send(context.Background(), Message{
		To:      "agent@habitat.com",
		ReplyTo: "ana@example.com",
		Subject: "Consulta\r\nBcc: evil@example.com",
		Body:    "Hola\nQuiero visitar",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.habitat.com:587", gotAddr)
	assert.Equal(t, "noreply@habitat.com", gotFrom)
	assert.Equal(t, []string{"agent@habitat.com"}, gotTo)

	body := string(gotMsg)
	assert.Contains(t, body, "To: agent@habitat.com\r\n")
	assert.Contains(t, body, "Reply-To: ana@example.com\r\n")
	assert.Contains(t, body, "Subject: Consulta  Bcc: evil@example.com\r\n")
	assert.Contains(t, body, "\r\n\r\nHola\r\nQuiero visitar")
}

func TestSMTPMailerErrors(t *testing.T) {
	mailer := NewSMTPMailer("smtp.habitat.com", 25, "", "", "noreply@habitat.com", quietLogger())
	mailer.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := mailer.Send(context.Background(), Message{To: "agent@habitat.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	err = mailer.Send(context.Background(), Message{To: "a@b.com\r\nBcc: x@y.com"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, mailer.Send(ctx, Message{To: "agent@habitat.com"}), context.Canceled)

	assert.ErrorIs(t, DisabledMailer{}.Send(context.Background(), Message{}), ErrMailDisabled)
}

func TestTelegramNotifyNewContact(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer server.Close()

	tg := NewTelegram("TOKEN", "42", quietLogger())
	tg.baseURL = server.URL

	propertyID := int64(7)
	email := "ana@example.com"
	err := tg.NotifyNewContact(context.Background(), &models.Contact{
		ID:         1,
		Name:       "Ana <b>",
		Email:      &email,
		Message:    "Hola",
		PropertyID: &propertyID,
	})
	require.NoError(t, err)

	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "HTML", payload["parse_mode"])
	text := payload["text"].(string)
	assert.Contains(t, text, "Ana &lt;b&gt;")
	assert.Contains(t, text, "ana@example.com")
	assert.Contains(t, text, "#7")
}

func TestTelegramErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"blocked", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, "status 403): Forbidden: bot was blocked by the user"},
		{"not ok", http.StatusOK, `{"ok":false,"description":"Bad Request: chat not found"}`, "chat not found"},
		{"no body", http.StatusBadGateway, "", "status 502): Bad Gateway"},
		{"garbage", http.StatusOK, "<html>", "unreadable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			tg := NewTelegram("TOKEN", "42", quietLogger())
			tg.baseURL = server.URL
			err := tg.SendMessage(context.Background(), "hi")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	err := NewTelegram("", "42", quietLogger()).SendMessage(context.Background(), "hi")
	assert.Error(t, err)
	err = NewTelegram("TOKEN", "", quietLogger()).SendMessage(context.Background(), "hi")
	assert.Error(t, err)
}

func TestTelegramTransportErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	tg := NewTelegram("SECRET-TOKEN", "42", quietLogger())
	tg.baseURL = server.URL
	err := tg.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}
