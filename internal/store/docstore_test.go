package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/pendingpush/internal/docstore"
	"github.com/nao1215/pendingpush/pkg/httpclient"
	"github.com/nao1215/pendingpush/pkg/middleware"
	"github.com/nao1215/pendingpush/pkg/record"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// setupDocstore はインメモリSQLiteのドキュメントストアサーバーを起動する。
func setupDocstore(t *testing.T) (*docstore.Store, *httpclient.Client) {
	t.Helper()

	db, err := docstore.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ds := docstore.NewStore(db)
	srv := httptest.NewServer(docstore.NewServer(ds, testSecret, nil).Handler())
	t.Cleanup(srv.Close)

	token, err := middleware.GenerateJWT(testSecret, "dispatcher", 0)
	if err != nil {
		t.Fatalf("トークンの生成に失敗: %v", err)
	}
	return ds, httpclient.New(srv.URL, httpclient.WithBearerToken(token))
}

func TestDocstoreStore_Update(t *testing.T) {
	t.Parallel()

	t.Run("正常系_配信成功がサーバー時刻付きで書き戻される", func(t *testing.T) {
		t.Parallel()
		ds, client := setupDocstore(t)
		ctx := context.Background()

		doc, err := ds.Create(ctx, record.DefaultCollection, map[string]any{
			"fcmToken": "tok", "title": "t", "body": "b", "error": "old",
		})
		if err != nil {
			t.Fatalf("ドキュメントの作成に失敗: %v", err)
		}

		s := NewDocstoreStore(client, record.DefaultCollection)
		if err := s.Update(ctx, doc.ID, record.DeliveredPatch()); err != nil {
			t.Fatalf("書き戻しに失敗: %v", err)
		}

		got, err := ds.Get(ctx, record.DefaultCollection, doc.ID)
		if err != nil {
			t.Fatalf("ドキュメントの取得に失敗: %v", err)
		}
		if got.Data["delivered"] != true {
			t.Errorf("delivered = %v, want true", got.Data["delivered"])
		}
		if _, ok := got.Data["deliveredAt"].(string); !ok {
			t.Errorf("deliveredAt = %v, want 日時文字列", got.Data["deliveredAt"])
		}
		if _, ok := got.Data["error"]; ok {
			t.Error("errorが残っている")
		}
	})

	t.Run("異常系_存在しないレコードはErrNotFound", func(t *testing.T) {
		t.Parallel()
		_, client := setupDocstore(t)

		s := NewDocstoreStore(client, record.DefaultCollection)
		err := s.Update(context.Background(), "missing", record.FailedPatch("x"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("異常系_サーバーエラーはStatusErrorを含む", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		s := NewDocstoreStore(httpclient.New(srv.URL), record.DefaultCollection)
		err := s.Update(context.Background(), "id-1", record.DeliveredPatch())
		var se *httpclient.StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("err = %v, want 503のStatusError", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Error("503がErrNotFoundとして扱われた")
		}
	})
}
