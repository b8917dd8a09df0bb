// Package logging はgo-kit/logによるレベル付き構造化ロガーを生成する。
package logging

import (
	"fmt"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// ログの出力形式。
const (
	// FormatLogfmt はkey=value形式。
	FormatLogfmt = "logfmt"
	// FormatJSON はJSON形式。
	FormatJSON = "json"
)

// New はwに出力するロガーを生成する。
// debugがfalseの場合はinfo以上のレベルのみ出力する。
func New(w io.Writer, format string, debug bool) (log.Logger, error) {
	var logger log.Logger
	switch format {
	case "", FormatLogfmt:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FormatJSON:
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("未知のログ形式です: %s", format)
	}

	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if debug {
		return level.NewFilter(logger, level.AllowDebug()), nil
	}
	return level.NewFilter(logger, level.AllowInfo()), nil
}

// With はコンポーネント名を付与したロガーを返す。
func With(logger log.Logger, component string) log.Logger {
	return log.With(logger, "component", component)
}
