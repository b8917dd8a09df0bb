// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTによるサービス認証、リクエストログ、パニックリカバリを含む。
// ドキュメントストアとディスパッチャーの運用サーバーで共通して使用する。
package middleware
