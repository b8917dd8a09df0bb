package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/pkg/record"
)

// Event は「レコード作成」イベント。
type Event struct {
	// NotificationID はストアが割り当てたレコードID。
	NotificationID string
	// Data は作成されたレコードのフィールド。
	// ハンドラ実行前にレコードが削除されていた場合はnil。
	Data record.Fields
}

// Sender はプッシュ通知を1台の端末に配信する。
type Sender interface {
	Send(ctx context.Context, msg *OutboundMessage) error
}

// Updater はレコードIDを指定して部分更新を書き込む。
type Updater interface {
	Update(ctx context.Context, notificationID string, patch record.Patch) error
}

// Stats はハンドラの処理件数。
type Stats struct {
	// Received は受信したイベント数。
	Received int64 `json:"received"`
	// Skipped はスナップショットが存在せず何もしなかったイベント数。
	Skipped int64 `json:"skipped"`
	// Invalid は検証に失敗したイベント数。
	Invalid int64 `json:"invalid"`
	// Delivered は配信に成功したイベント数。
	Delivered int64 `json:"delivered"`
	// Failed は配信に失敗したイベント数。
	Failed int64 `json:"failed"`
	// WriteErrors は結果の書き戻しに失敗したイベント数。
	WriteErrors int64 `json:"write_errors"`
}

// Handler は作成イベントを受けて通知を配信し、結果をレコードに書き戻す。
// 複数のgoroutineから同時に呼び出してよい。
type Handler struct {
	sender  Sender
	updater Updater
	logger  log.Logger

	received    atomic.Int64
	skipped     atomic.Int64
	invalid     atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	writeErrors atomic.Int64
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(sender Sender, updater Updater, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		sender:  sender,
		updater: updater,
		logger:  logger,
	}
}

// Handle は1件の作成イベントを処理する。
//
// 検証失敗と配信失敗はログに記録して正常終了する。
// エラーを返すのは結果の書き戻しに失敗した場合のみ。
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	h.received.Add(1)

	if ev.Data == nil {
		h.skipped.Add(1)
		return nil
	}

	if err := Validate(ev.Data); err != nil {
		h.invalid.Add(1)
		_ = level.Error(h.logger).Log(
			"msg", "必須フィールドが欠落しているため通知を送信しません",
			"notification_id", ev.NotificationID,
			"err", err,
		)
		return nil
	}

	msg := BuildMessage(ev.NotificationID, ev.Data)

	// 文字列でない必須フィールドは送信せずに配信失敗として記録する
	sendErr := CheckStrings(ev.Data)
	if sendErr == nil {
		sendErr = h.sender.Send(ctx, msg)
	}
	if sendErr != nil {
		if err := h.write(ctx, ev.NotificationID, record.FailedPatch(failureReason(sendErr))); err != nil {
			return err
		}
		h.failed.Add(1)
		_ = level.Error(h.logger).Log(
			"msg", "通知の送信に失敗しました",
			"notification_id", ev.NotificationID,
			"token", msg.Token,
			"err", sendErr,
		)
		return nil
	}

	if err := h.write(ctx, ev.NotificationID, record.DeliveredPatch()); err != nil {
		return err
	}
	h.delivered.Add(1)
	_ = level.Info(h.logger).Log(
		"msg", "通知を送信しました",
		"notification_id", ev.NotificationID,
		"token", msg.Token,
	)
	return nil
}

// write は終端状態をレコードに書き戻す。失敗してもリトライしない。
func (h *Handler) write(ctx context.Context, notificationID string, patch record.Patch) error {
	if err := h.updater.Update(ctx, notificationID, patch); err != nil {
		h.writeErrors.Add(1)
		return fmt.Errorf("通知 %s の配信結果の書き戻しに失敗: %w", notificationID, err)
	}
	return nil
}

// failureReason はレコードに書き戻す失敗理由を返す。
// 送信アダプタが付けたラップを外し、最も内側のエラーのメッセージを使う。
func failureReason(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}

// Stats は現在の処理件数を返す。
func (h *Handler) Stats() Stats {
	return Stats{
		Received:    h.received.Load(),
		Skipped:     h.skipped.Load(),
		Invalid:     h.invalid.Load(),
		Delivered:   h.delivered.Load(),
		Failed:      h.failed.Load(),
		WriteErrors: h.writeErrors.Load(),
	}
}
