package ops

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/log"
	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/nao1215/pendingpush/pkg/middleware"
)

// serviceName はヘルスチェックに表示するサービス名。
const serviceName = "dispatcher"

// StatsProvider は処理件数を返す。*dispatcher.Handler が満たす。
type StatsProvider interface {
	Stats() dispatcher.Stats
}

// Server は運用向けHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// source はイベント供給元の名前。
	source string
	// stats は処理件数の取得元。
	stats StatsProvider
}

// NewServer は新しい運用サーバーを生成する。
func NewServer(source string, stats StatsProvider, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	s := &Server{
		router: router,
		source: source,
		stats:  stats,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"source":  s.source,
		})
	})

	api := s.router.Group("/api/v1")
	{
		api.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.stats.Stats())
		})
	}
}
