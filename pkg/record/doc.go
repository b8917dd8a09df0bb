// Package record は配信待ち通知レコード（pending notification）のデータモデルを提供する。
//
// レコードのフィールドは型が保証されない半構造化データであるため、
// 値は型タグ付きのValueとして保持する。ディスパッチャーが書き戻す
// 部分更新（Patch）と、ストア側で解決されるセンチネル値もここで定義する。
package record
