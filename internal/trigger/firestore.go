package trigger

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/nao1215/pendingpush/pkg/record"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreSource はFirestoreコレクションへのドキュメント追加をイベントとして供給する。
// 購読開始時点で存在するドキュメントは対象外。
type FirestoreSource struct {
	// collection は監視するコレクション。
	collection *firestore.CollectionRef
	// logger はソースのロガー。
	logger log.Logger
}

// NewFirestoreSource は新しいFirestoreSourceを生成する。
func NewFirestoreSource(client *firestore.Client, collection string, logger log.Logger) *FirestoreSource {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &FirestoreSource{
		collection: client.Collection(collection),
		logger:     logger,
	}
}

// Name は供給元の名前を返す。
func (s *FirestoreSource) Name() string {
	return "firestore"
}

// Run はスナップショットリスナーを開始し、追加されたドキュメントをemitに渡す。
// 最初のスナップショットは購読開始時点の状態なので読み飛ばす。
func (s *FirestoreSource) Run(ctx context.Context, emit EmitFunc) error {
	it := s.collection.Snapshots(ctx)
	defer it.Stop()

	baseline := true
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("Firestoreスナップショットの取得に失敗: %w", err)
		}
		if baseline {
			baseline = false
			_ = level.Debug(s.logger).Log("msg", "スナップショットの購読を開始しました", "size", snap.Size)
			continue
		}

		for _, ev := range addedEvents(snap.Changes) {
			emit(ev)
		}
	}
}

// addedEvents はドキュメント追加の変更だけをイベントに変換する。
// 取得時点でドキュメントが存在しない場合はDataをnilにする。
func addedEvents(changes []firestore.DocumentChange) []dispatcher.Event {
	var events []dispatcher.Event
	for _, ch := range changes {
		if ch.Kind != firestore.DocumentAdded || ch.Doc == nil || ch.Doc.Ref == nil {
			continue
		}
		ev := dispatcher.Event{NotificationID: ch.Doc.Ref.ID}
		if ch.Doc.Exists() {
			ev.Data = record.FieldsOf(ch.Doc.Data())
		}
		events = append(events, ev)
	}
	return events
}
