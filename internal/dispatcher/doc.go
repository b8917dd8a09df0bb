// Package dispatcher は配信待ち通知レコードの作成イベントを処理するハンドラを提供する。
//
// 1件のイベントにつき、フィールドの検証、プッシュ通知メッセージの組み立て、
// 配信の試行、結果（配信成功または失敗）のレコードへの書き戻しを順に行う。
// リトライや重複排除は行わない。イベントの再送はトリガー側の責務とする。
package dispatcher
