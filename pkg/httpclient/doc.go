// Package httpclient はサービス間のJSON HTTP通信を行うクライアントを提供する。
//
// ディスパッチャーからドキュメントストアへの変更フィードの取得と結果の書き戻し、
// HTTPプッシュゲートウェイへの配信依頼で使用する。
package httpclient
