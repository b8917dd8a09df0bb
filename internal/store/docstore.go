package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/pendingpush/pkg/httpclient"
	"github.com/nao1215/pendingpush/pkg/record"
)

// DocstoreStore はドキュメントストアサービスのコレクションにパッチを書き込む。
type DocstoreStore struct {
	// client はドキュメントストアへのHTTPクライアント。
	client *httpclient.Client
	// collection は書き戻し先のコレクション名。
	collection string
}

// NewDocstoreStore は新しいDocstoreStoreを生成する。
func NewDocstoreStore(client *httpclient.Client, collection string) *DocstoreStore {
	return &DocstoreStore{
		client:     client,
		collection: collection,
	}
}

// Update はPATCHでパッチを送信する。センチネルはサービス側で解決される。
func (s *DocstoreStore) Update(ctx context.Context, notificationID string, patch record.Patch) error {
	path := fmt.Sprintf("/api/v1/collections/%s/documents/%s",
		url.PathEscape(s.collection), url.PathEscape(notificationID))

	if err := s.client.PatchJSON(ctx, path, patch, nil); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, notificationID)
		}
		return fmt.Errorf("ドキュメントストアの更新に失敗: %w", err)
	}
	return nil
}
