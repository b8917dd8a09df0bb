package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/nao1215/pendingpush/pkg/httpclient"
)

// relaySendPath はプッシュゲートウェイの送信エンドポイント。
const relaySendPath = "/v1/send"

// GatewayError はプッシュゲートウェイが配信を拒否したことを表す。
// Errorはゲートウェイが返した理由をそのまま返す。
type GatewayError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はゲートウェイが返した理由。
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}

// RelaySender はHTTPのプッシュゲートウェイ経由で通知を配信する。
// 2xx以外の応答は配信失敗として扱う。
type RelaySender struct {
	client *httpclient.Client
}

// NewRelaySender は新しいRelaySenderを生成する。
func NewRelaySender(client *httpclient.Client) *RelaySender {
	return &RelaySender{client: client}
}

// Send はメッセージをJSONでゲートウェイにPOSTする。
func (s *RelaySender) Send(ctx context.Context, msg *dispatcher.OutboundMessage) error {
	err := s.client.PostJSON(ctx, relaySendPath, msg, nil)
	if err == nil {
		return nil
	}

	var se *httpclient.StatusError
	if errors.As(err, &se) {
		err = newGatewayError(se)
	}
	return fmt.Errorf("プッシュゲートウェイへの送信に失敗: %w", err)
}

// newGatewayError はレスポンスから拒否理由を取り出す。
// ボディが {"error": "..."} であればその値、そうでなければボディかステータスの文言を使う。
func newGatewayError(se *httpclient.StatusError) *GatewayError {
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(se.Body)
	if err := json.Unmarshal([]byte(se.Body), &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("%d %s", se.StatusCode, http.StatusText(se.StatusCode))
	}
	return &GatewayError{StatusCode: se.StatusCode, Message: msg}
}
