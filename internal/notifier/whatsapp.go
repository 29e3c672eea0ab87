// Package notifier содержит HTTP-клиенты внешних каналов: WhatsApp через Twilio и AI-ассистент
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"support_chat/internal/config"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

// WhatsAppClient отправляет сообщения через Twilio Messages API
type WhatsAppClient struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	log        logger.Logger
}

func NewWhatsAppClient(cfg config.WhatsAppConfig, log logger.Logger) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:    strings.TrimRight(cfg.APIBase, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Configured - заданы ли учетные данные Twilio
func (c *WhatsAppClient) Configured() bool {
	return c.accountSID != "" && c.authToken != "" && c.from != ""
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Send отправляет текст на номер вида "whatsapp:+<digits>". Ошибки оборачивают ErrDelivery.
func (c *WhatsAppClient) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", apperrors.ErrDelivery, err)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %v", apperrors.ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: twilio returned status %d: %s", apperrors.ErrDelivery, resp.StatusCode, string(bodyBytes))
	}

	var response twilioMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		// сообщение уже принято, тело ответа не критично
		c.log.Warn("Failed to decode Twilio response", "error", err)
		return nil
	}

	c.log.Info("WhatsApp message sent", "sid", response.SID, "status", response.Status)
	return nil
}
