package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/pkg/middleware"
	"github.com/nao1215/pendingpush/pkg/record"
)

const (
	// defaultLimit は一覧と変更フィードの既定の取得件数。
	defaultLimit = 100
	// maxLimit は一覧と変更フィードの最大取得件数。
	maxLimit = 1000
	// maxBodyBytes はリクエストボディの最大サイズ。
	maxBodyBytes = 1 << 20
)

// Server はドキュメントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store はドキュメントの永続化を担う。
	store *Store
	// logger はサーバーのロガー。
	logger log.Logger
}

// NewServer は新しいドキュメントストアサーバーを生成する。
// /api/v1 配下はjwtSecretで署名されたBearerトークンを要求する。
func NewServer(store *Store, jwtSecret string, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	s := &Server{
		router: router,
		store:  store,
		logger: logger,
	}
	s.setupRoutes(middleware.JWTAuth(jwtSecret))
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")
	api.Use(auth)
	{
		collection := api.Group("/collections/:collection")
		{
			// ドキュメントの作成（プロデューサーが呼び出す）
			collection.POST("/documents", s.handleCreate())
			// ドキュメント一覧（クエリパラメータ: state, limit）
			collection.GET("/documents", s.handleList())
			// ドキュメント取得
			collection.GET("/documents/:id", s.handleGet())
			// ドキュメントの部分更新（ディスパッチャーが結果の書き戻しに使う）
			collection.PATCH("/documents/:id", s.handleUpdate())
			// ドキュメント削除
			collection.DELETE("/documents/:id", s.handleDelete())
			// 変更フィード（クエリパラメータ: after, limit）
			collection.GET("/changes", s.handleChanges())
			// 変更フィードの最新seq
			collection.GET("/changes/head", s.handleHead())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "docstore"})
	})
}

// handleCreate はドキュメントを作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み込みに失敗しました"})
			return
		}

		data, err := decodeObject(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		doc, err := s.store.Create(c.Request.Context(), c.Param("collection"), data)
		if err != nil {
			s.respondError(c, err, "ドキュメントの作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// handleGet はドキュメントを返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := s.store.Get(c.Request.Context(), c.Param("collection"), c.Param("id"))
		if err != nil {
			s.respondError(c, err, "ドキュメントの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// handleList はドキュメント一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := parseLimit(c.Query("limit"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		state := record.State(c.Query("state"))
		switch state {
		case "", record.StatePending, record.StateDelivered, record.StateFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("stateが不正です: %s", state)})
			return
		}

		docs, err := s.store.List(c.Request.Context(), c.Param("collection"), state, limit)
		if err != nil {
			s.respondError(c, err, "ドキュメント一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}

// handleUpdate はパッチを適用するハンドラ。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み込みに失敗しました"})
			return
		}

		patch, err := record.DecodePatch(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		doc, err := s.store.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), patch)
		if err != nil {
			s.respondError(c, err, "ドキュメントの更新に失敗しました")
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// handleDelete はドキュメントを削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")); err != nil {
			s.respondError(c, err, "ドキュメントの削除に失敗しました")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// changesResponse は変更フィードのJSONレスポンス構造。
type changesResponse struct {
	// Changes は取得した変更。
	Changes []Change `json:"changes"`
	// LastSeq は取得した最後の変更のseq。変更がなければリクエストのafter。
	LastSeq int64 `json:"last_seq"`
}

// handleChanges は変更フィードを返すハンドラ。
func (s *Server) handleChanges() gin.HandlerFunc {
	return func(c *gin.Context) {
		var after int64
		if v := c.Query("after"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("afterが不正です: %s", v)})
				return
			}
			after = n
		}
		limit, err := parseLimit(c.Query("limit"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		changes, err := s.store.ChangesAfter(c.Request.Context(), c.Param("collection"), after, limit)
		if err != nil {
			s.respondError(c, err, "変更フィードの取得に失敗しました")
			return
		}

		resp := changesResponse{Changes: changes, LastSeq: after}
		if len(changes) > 0 {
			resp.LastSeq = changes[len(changes)-1].Seq
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleHead は変更フィードの最新seqを返すハンドラ。
func (s *Server) handleHead() gin.HandlerFunc {
	return func(c *gin.Context) {
		seq, err := s.store.Head(c.Request.Context(), c.Param("collection"))
		if err != nil {
			s.respondError(c, err, "変更フィードの先頭の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"seq": seq})
	}
}

// respondError はストアのエラーをHTTPステータスに変換して返す。
func (s *Server) respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ドキュメントが見つかりません"})
	case errors.Is(err, ErrInvalidField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = level.Error(s.logger).Log("msg", msg, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// decodeObject はリクエストボディをJSONオブジェクトとしてデコードする。
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("JSONオブジェクトが必要です")
	}
	return m, nil
}

// parseLimit はlimitクエリパラメータを解析する。
func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limitが不正です: %s", v)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
