// Package push はプッシュ通知の配信アダプタを提供する。
//
// FCMSender はFirebase Cloud Messagingへ、RelaySender はHTTPのプッシュゲートウェイへ
// メッセージを送る。どちらも dispatcher.Sender を満たし、配信の失敗はエラーとして返す。
package push
