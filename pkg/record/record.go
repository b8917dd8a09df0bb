package record

// DefaultCollection は配信待ち通知レコードを格納するコレクション名。
const DefaultCollection = "pending_notifications"

// レコードのフィールド名。作成時に外部のプロデューサーが設定するもの。
const (
	// FieldToken は配信先デバイスのプッシュトークン。
	FieldToken = "fcmToken"
	// FieldTitle は通知のタイトル。
	FieldTitle = "title"
	// FieldBody は通知の本文。
	FieldBody = "body"
)

// ディスパッチャーが処理後に書き戻すフィールド名。
const (
	// FieldDelivered は配信結果フラグ。
	FieldDelivered = "delivered"
	// FieldDeliveredAt は配信成功日時。成功時のみ設定される。
	FieldDeliveredAt = "deliveredAt"
	// FieldError は配信失敗の説明。失敗時のみ設定される。
	FieldError = "error"
)

// DataKeyNotificationID はデータペイロードでレコードIDを格納する予約キー。
const DataKeyNotificationID = "notificationId"

// Fields はレコードのフィールドのスナップショット。
type Fields map[string]Value

// FieldsOf はmapをFieldsに変換する。mがnilでも空のFieldsを返す。
func FieldsOf(m map[string]any) Fields {
	f := make(Fields, len(m))
	for k, v := range m {
		f[k] = ValueOf(v)
	}
	return f
}

// String はkeyの値が文字列の場合にその値を返す。
func (f Fields) String(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	return v.Str()
}

// State はディスパッチャーから見たレコードの状態。
type State string

const (
	// StatePending は未処理（配信フラグなし）の状態。
	StatePending State = "pending"
	// StateDelivered は配信成功の終端状態。
	StateDelivered State = "delivered"
	// StateFailed は配信失敗の終端状態。
	StateFailed State = "failed"
)

// StateOf はフィールドから現在の状態を判定する。
func StateOf(f Fields) State {
	v, ok := f[FieldDelivered]
	if !ok || v.Kind() != KindBool {
		return StatePending
	}
	if delivered, _ := v.Interface().(bool); delivered {
		return StateDelivered
	}
	return StateFailed
}
