package trigger

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/nao1215/pendingpush/pkg/httpclient"
	"github.com/nao1215/pendingpush/pkg/record"
)

const (
	// DefaultPollInterval は変更フィードの既定のポーリング間隔。
	DefaultPollInterval = 2 * time.Second
	// pollBatchSize は1回のリクエストで取得する変更の最大件数。
	pollBatchSize = 100
)

// PollSource はドキュメントストアサービスの変更フィードをポーリングしてイベントを供給する。
// 起動時点のフィードの先頭から読み始めるため、既存のドキュメントは対象外。
type PollSource struct {
	// client はドキュメントストアとの通信用HTTPクライアント。
	client *httpclient.Client
	// collection は監視するコレクション名。
	collection string
	// interval はポーリング間隔。
	interval time.Duration
	// logger はソースのロガー。
	logger log.Logger
}

// NewPollSource は新しいPollSourceを生成する。intervalが0以下の場合はDefaultPollIntervalを使う。
func NewPollSource(client *httpclient.Client, collection string, interval time.Duration, logger log.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &PollSource{
		client:     client,
		collection: collection,
		interval:   interval,
		logger:     logger,
	}
}

// Name は供給元の名前を返す。
func (s *PollSource) Name() string {
	return "docstore"
}

// headResponse は変更フィードの先頭を表すJSON構造。
type headResponse struct {
	// Seq は最新の変更のseq。
	Seq int64 `json:"seq"`
}

// changeResponse は変更フィードの1件のJSON構造。
type changeResponse struct {
	// Seq は変更フィード内の連番。
	Seq int64 `json:"seq"`
	// DocumentID は作成されたドキュメントのID。
	DocumentID string `json:"document_id"`
	// Data はドキュメントのフィールド。削除済みの場合はnull。
	Data map[string]any `json:"data"`
}

// changesResponse は変更フィードのJSON構造。
type changesResponse struct {
	// Changes は取得した変更。
	Changes []changeResponse `json:"changes"`
	// LastSeq は取得した最後の変更のseq。
	LastSeq int64 `json:"last_seq"`
}

// Run は変更フィードをポーリングし、新しい作成イベントをemitに渡す。
// 一時的な通信エラーはログに記録して次の周期で再試行する。
func (s *PollSource) Run(ctx context.Context, emit EmitFunc) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	cursor, ok := int64(0), false
	for {
		var err error
		if !ok {
			if cursor, err = s.head(ctx); err == nil {
				ok = true
				_ = level.Info(s.logger).Log("msg", "変更フィードのポーリングを開始します", "after", cursor)
			}
		} else {
			cursor, err = s.drain(ctx, cursor, emit)
		}
		if err != nil && ctx.Err() == nil {
			_ = level.Warn(s.logger).Log("msg", "ポーリングエラー", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// head は変更フィードの最新seqを取得する。
func (s *PollSource) head(ctx context.Context) (int64, error) {
	var resp headResponse
	if err := s.client.GetJSON(ctx, s.basePath()+"/changes/head", &resp); err != nil {
		return 0, fmt.Errorf("変更フィードの先頭の取得に失敗: %w", err)
	}
	return resp.Seq, nil
}

// drain はafterより後の変更を取り切るまで取得してemitに渡し、新しいカーソルを返す。
func (s *PollSource) drain(ctx context.Context, after int64, emit EmitFunc) (int64, error) {
	for {
		path := fmt.Sprintf("%s/changes?after=%d&limit=%d", s.basePath(), after, pollBatchSize)

		var resp changesResponse
		if err := s.client.GetJSON(ctx, path, &resp); err != nil {
			return after, fmt.Errorf("変更フィードの取得に失敗: %w", err)
		}

		for _, ch := range resp.Changes {
			ev := dispatcher.Event{NotificationID: ch.DocumentID}
			if ch.Data != nil {
				ev.Data = record.FieldsOf(ch.Data)
			}
			emit(ev)
			after = ch.Seq
		}
		if len(resp.Changes) < pollBatchSize {
			return after, nil
		}
	}
}

// basePath はコレクションのAPIパスを返す。
func (s *PollSource) basePath() string {
	return "/api/v1/collections/" + url.PathEscape(s.collection)
}
