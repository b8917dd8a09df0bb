package dispatcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/pendingpush/pkg/record"
)

var (
	// ErrMissingFields は必須フィールドが欠落していることを表す。
	ErrMissingFields = errors.New("FCMトークン、タイトル、本文のいずれかが欠落しています")
	// ErrNonStringField は必須フィールドに値はあるが文字列ではないことを表す。
	ErrNonStringField = errors.New("必須フィールドが文字列ではありません")
)

// requiredFields は配信に必須のフィールド。
var requiredFields = []string{record.FieldToken, record.FieldTitle, record.FieldBody}

// Validate は配信を試行してよいレコードかを判定する。
// 必須フィールドが欠落しているか、null、空文字列、false、数値の0の場合にエラーを返す。
// 値の型は問わない。
func Validate(f record.Fields) error {
	var missing []string
	for _, name := range requiredFields {
		if v, ok := f[name]; !ok || !v.Truthy() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	return nil
}

// nonStringFieldError は文字列でない必須フィールドを表すエラー。
// Errorはレコードに書き戻す理由として使う。
type nonStringFieldError struct {
	// field はフィールド名。
	field string
}

func (e *nonStringFieldError) Error() string {
	return e.field + " must be a string"
}

func (e *nonStringFieldError) Is(target error) bool {
	return target == ErrNonStringField
}

// CheckStrings は検証済みのレコードの必須フィールドがすべて文字列かを確認する。
// 文字列でないフィールドがあれば最初の1つを示すErrNonStringFieldを返す。
func CheckStrings(f record.Fields) error {
	for _, name := range requiredFields {
		if _, ok := f.String(name); !ok {
			return &nonStringFieldError{field: name}
		}
	}
	return nil
}
