// Package docstore はSQLiteを使ったドキュメントストアサービスの内部実装を提供する。
//
// ローカル環境や開発環境で、共有データストア（Firestore）の代わりに
// 配信待ち通知レコードを保持する。ドキュメントはコレクションごとに
// JSONとして保存し、作成のたびに変更フィードへ連番付きで記録する。
// ディスパッチャーは変更フィードをポーリングして作成イベントを受け取り、
// 部分更新APIで配信結果を書き戻す。
package docstore
