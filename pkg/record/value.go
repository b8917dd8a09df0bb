package record

import (
	"encoding/json"
	"math"
	"time"
)

// Kind はフィールド値の実行時の型を表すタグ。
type Kind int

const (
	// KindNull はnullまたは値なしを表す。
	KindNull Kind = iota
	// KindString は文字列を表す。
	KindString
	// KindNumber は整数または浮動小数点数を表す。
	KindNumber
	// KindBool は真偽値を表す。
	KindBool
	// KindTimestamp は日時を表す。
	KindTimestamp
	// KindBytes はバイト列を表す。
	KindBytes
	// KindArray は配列を表す。
	KindArray
	// KindMap はネストしたオブジェクトを表す。
	KindMap
	// KindOther は上記以外の型（ドキュメント参照や地理座標など）を表す。
	KindOther
)

// String はKindの名前を返す。
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "other"
	}
}

// Value は型タグ付きのフィールド値。
type Value struct {
	// kind は値の型タグ。
	kind Kind
	// str はkindがKindStringのときの文字列値。
	str string
	// raw は元の値。
	raw any
}

// StringValue は文字列のValueを生成する。
func StringValue(s string) Value {
	return Value{kind: KindString, str: s, raw: s}
}

// ValueOf は任意の値を分類してValueに変換する。
// Firestoreのドキュメント値とJSONデコード結果（json.Numberを含む）の両方を扱う。
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{kind: KindNull}
	case Value:
		return x
	case string:
		return StringValue(x)
	case bool:
		return Value{kind: KindBool, raw: x}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return Value{kind: KindNumber, raw: x}
	case time.Time:
		return Value{kind: KindTimestamp, raw: x}
	case *time.Time:
		if x == nil {
			return Value{kind: KindNull}
		}
		return Value{kind: KindTimestamp, raw: *x}
	case []byte:
		return Value{kind: KindBytes, raw: x}
	case []any:
		return Value{kind: KindArray, raw: x}
	case map[string]any:
		return Value{kind: KindMap, raw: x}
	default:
		return Value{kind: KindOther, raw: x}
	}
}

// Kind は値の型タグを返す。
func (v Value) Kind() Kind {
	return v.kind
}

// Str は値が文字列の場合にその文字列を返す。
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Interface は元の値を返す。
func (v Value) Interface() any {
	return v.raw
}

// Truthy は値が「値あり」とみなせるかを返す。
// null、空文字列、false、数値の0とNaNは値なし、それ以外の型は値ありとする。
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindString:
		return v.str != ""
	case KindBool:
		b, _ := v.raw.(bool)
		return b
	case KindNumber:
		f, ok := toFloat(v.raw)
		return !ok || (f != 0 && !math.IsNaN(f))
	default:
		return true
	}
}

// toFloat は数値をfloat64に変換する。
func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
