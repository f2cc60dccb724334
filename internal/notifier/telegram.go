package notifier

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	Token      string
	ChatID     string
	BaseURL    string
	Retries    int
	RetryDelay time.Duration
	Client     *http.Client
}

func NewTelegramNotifier(token, chatID string, retries int, delay time.Duration) *TelegramNotifier {
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		BaseURL:    telegramAPI,
		Retries:    retries,
		RetryDelay: delay,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.Token)
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		// the request URL carries the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry tries Send up to Retries times, waiting RetryDelay between
// attempts, and returns the last error.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	attempts := max(t.Retries, 1)
	var err error
	for i := 1; i <= attempts; i++ {
		if err = t.Send(message); err == nil {
			return nil
		}
		if i < attempts {
			time.Sleep(t.RetryDelay)
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", attempts, err)
}
