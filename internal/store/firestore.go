package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/nao1215/pendingpush/pkg/record"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound は書き戻し先のレコードが存在しないことを表す。
var ErrNotFound = errors.New("レコードが見つかりません")

// FirestoreStore はFirestoreのコレクションにパッチを書き込む。
type FirestoreStore struct {
	// collection は書き戻し先のコレクション。
	collection *firestore.CollectionRef
}

// NewFirestoreStore は新しいFirestoreStoreを生成する。
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{collection: client.Collection(collection)}
}

// Update はドキュメントにパッチを適用する。ドキュメントが存在しない場合はErrNotFoundを返す。
func (s *FirestoreStore) Update(ctx context.Context, notificationID string, patch record.Patch) error {
	if _, err := s.collection.Doc(notificationID).Update(ctx, toUpdates(patch)); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, notificationID)
		}
		return fmt.Errorf("Firestoreの更新に失敗: %w", err)
	}
	return nil
}

// toUpdates はパッチをFirestoreの更新リストに変換する。
// フィールド名はドットを含んでもそのまま1要素のパスとして扱う。
func toUpdates(patch record.Patch) []firestore.Update {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		v := patch[k]
		if s, ok := v.(record.Sentinel); ok {
			switch s {
			case record.ServerTimestamp:
				v = firestore.ServerTimestamp
			case record.Delete:
				v = firestore.Delete
			}
		}
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates
}
