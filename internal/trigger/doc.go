// Package trigger は「レコード作成」イベントを受け取り、1件ごとに独立した呼び出しとして
// ハンドラを実行するランナーを提供する。
//
// イベントの供給元は Source として抽象化されている。
//   - FirestoreSource: Firestoreコレクションのスナップショットリスナー
//   - PollSource: ドキュメントストアサービスの変更フィードのポーリング
//   - KafkaSource: Kafkaトピックのコンシューマーグループ
//
// 呼び出しどうしの順序は保証しない。失敗した呼び出しはログに記録するだけで再実行しない。
package trigger
