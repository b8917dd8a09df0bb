package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にエラーログを出力し、500エラーを返す。
func Recovery(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				_ = level.Error(logger).Log(
					"msg", "パニックから回復しました",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"panic", r,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "内部サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}
