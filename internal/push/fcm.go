package push

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/internal/dispatcher"
)

// MessagingClient はFCMの送信クライアント。*messaging.Client が満たす。
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender はFirebase Cloud Messagingで通知を配信する。
type FCMSender struct {
	client MessagingClient
	logger log.Logger
}

// NewFCMSender は新しいFCMSenderを生成する。
func NewFCMSender(client MessagingClient, logger log.Logger) *FCMSender {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &FCMSender{
		client: client,
		logger: logger,
	}
}

// Send はメッセージを1台の端末に送信する。
func (s *FCMSender) Send(ctx context.Context, msg *dispatcher.OutboundMessage) error {
	id, err := s.client.Send(ctx, toFCMMessage(msg))
	if err != nil {
		_ = level.Debug(s.logger).Log(
			"msg", "FCMが送信を拒否しました",
			"unregistered", messaging.IsUnregistered(err),
			"invalid_argument", messaging.IsInvalidArgument(err),
			"err", err,
		)
		return fmt.Errorf("FCMへの送信に失敗: %w", err)
	}
	_ = level.Debug(s.logger).Log("msg", "FCMが送信を受け付けました", "message_id", id)
	return nil
}

// toFCMMessage はOutboundMessageをFCMのメッセージに変換する。
func toFCMMessage(msg *dispatcher.OutboundMessage) *messaging.Message {
	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Notification.Title,
			Body:  msg.Notification.Body,
		},
		Data: msg.Data,
	}
}
