// Package ops はディスパッチャーの運用向けHTTPサーバーを提供する。
//
// エンドポイント:
//   - GET /health: 稼働確認（イベント供給元の名前を含む）
//   - GET /api/v1/stats: ハンドラの処理件数
package ops
