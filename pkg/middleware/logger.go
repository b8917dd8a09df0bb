package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Logger はリクエストごとにアクセスログを出力するGinミドルウェアを返す。
// 5xxはerror、4xxはwarn、それ以外はdebugレベルで出力する。
func Logger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var l log.Logger
		switch {
		case status >= 500:
			l = level.Error(logger)
		case status >= 400:
			l = level.Warn(logger)
		default:
			l = level.Debug(logger)
		}
		_ = l.Log(
			"msg", "HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"subject", GetSubject(c),
		)
	}
}
