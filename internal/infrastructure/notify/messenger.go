package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MessengerClient は社内メッセンジャーゲートウェイへ POST /messages で通知を送る。
type MessengerClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewMessengerClient はエンドポイントと HTTP クライアントを束縛する。
func NewMessengerClient(endpoint string, httpClient *http.Client) *MessengerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &MessengerClient{endpoint: strings.TrimRight(endpoint, "/"), httpClient: httpClient}
}

// Enabled はエンドポイントが設定されているかを返す。
func (c *MessengerClient) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// SendWithRetry は attempts 回まで送信を試み、最後のエラーを返す。
func (c *MessengerClient) SendWithRetry(ctx context.Context, destination, userID, text string, attempts int, delay time.Duration) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return errors.New("destination is empty")
	}
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = c.Send(ctx, destination, userID, text); lastErr == nil {
			return nil
		}
		if delay > 0 && i < attempts-1 {
			select {
			case <-ctx.Done():
				return combineErrors(lastErr, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}

// Send は 1 件のメッセージを送信する。
func (c *MessengerClient) Send(ctx context.Context, destination, userID, text string) error {
	trimmedUserID := strings.TrimSpace(userID)
	if trimmedUserID == "" {
		return errors.New("userID is required")
	}

	payload := map[string]any{
		"userId": trimmedUserID,
		"text":   text,
	}
	if dest := strings.TrimSpace(destination); dest != "" {
		payload["destination"] = dest
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("メッセンジャー送信用ペイロードの作成に失敗: %w", err)
	}

	timeout := c.httpClient.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxWithTimeout, http.MethodPost, c.endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("メッセンジャー送信リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("メッセンジャー送信リクエストに失敗: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		message, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
		return fmt.Errorf("メッセンジャー送信でエラーが発生: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(message)))
	}
	return nil
}
