package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"support_chat/internal/config"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

// maxReplySize - ограничение на размер ответа ассистента
const maxReplySize = 64 * 1024

// AIResponder запрашивает ответ у внешнего чат-бота
type AIResponder struct {
	url        string
	chatbotID  string
	httpClient *http.Client
	log        logger.Logger
}

func NewAIResponder(cfg config.AIConfig, log logger.Logger) *AIResponder {
	return &AIResponder{
		url:       cfg.ResponderURL,
		chatbotID: cfg.ChatbotID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

func (r *AIResponder) Configured() bool {
	return r.url != ""
}

type replyRequestBody struct {
	ChatbotID  string `json:"chatbotId"`
	BusinessID string `json:"businessId"`
	Email      string `json:"email"`
	Message    string `json:"message"`
}

// Reply возвращает текст ответа как есть (ассистент отвечает text/plain)
func (r *AIResponder) Reply(ctx context.Context, req service.ReplyRequest) (string, error) {
	body, err := json.Marshal(replyRequestBody{
		ChatbotID:  r.chatbotID,
		BusinessID: req.BusinessID,
		Email:      req.Email,
		Message:    req.Message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ai responder returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return strings.TrimSpace(string(reply)), nil
}
