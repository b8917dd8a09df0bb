// Package store は配信結果をレコードに書き戻すアダプタを提供する。
//
// FirestoreStore はCloud Firestoreのドキュメントを、DocstoreStore はローカルの
// ドキュメントストアサービスをHTTP経由で部分更新する。どちらも dispatcher.Updater を満たす。
// record.ServerTimestamp と record.Delete はそれぞれのストアの仕組みで解決される。
package store
