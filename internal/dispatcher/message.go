package dispatcher

import "github.com/nao1215/pendingpush/pkg/record"

// Notification は端末に表示される通知の内容。
type Notification struct {
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
}

// OutboundMessage は1台の端末に送るプッシュ通知メッセージ。
// 呼び出しごとに生成され、永続化されない。
type OutboundMessage struct {
	// Token は配信先デバイスのプッシュトークン。
	Token string `json:"target"`
	// Notification は通知の表示内容。
	Notification Notification `json:"notification"`
	// Data はアプリケーションに渡すキーと文字列値の組。
	Data map[string]string `json:"data"`
}

// BuildMessage は検証済みのレコードからOutboundMessageを組み立てる。
// データペイロードには文字列型のフィールドのみを元のキーで含め、
// 最後にレコードIDを予約キーで追加する。同名のフィールドがあってもIDが優先される。
func BuildMessage(notificationID string, f record.Fields) *OutboundMessage {
	token, _ := f.String(record.FieldToken)
	title, _ := f.String(record.FieldTitle)
	body, _ := f.String(record.FieldBody)

	data := make(map[string]string, len(f)+1)
	for k, v := range f {
		if s, ok := v.Str(); ok {
			data[k] = s
		}
	}
	data[record.DataKeyNotificationID] = notificationID

	return &OutboundMessage{
		Token: token,
		Notification: Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}
}
