// Package config はディスパッチャーとドキュメントストアのコマンドライン設定を提供する。
//
// 設定はフラグ、環境変数（接頭辞 PENDINGPUSH_）、-config で指定する設定ファイルの順に解決される。
// 環境変数名はフラグ名を大文字にしてハイフンをアンダースコアに置き換えたもの
// （例: -kafka-brokers は PENDINGPUSH_KAFKA_BROKERS）。
package config
