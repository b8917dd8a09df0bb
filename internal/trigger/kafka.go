package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/nao1215/pendingpush/pkg/record"
	"github.com/segmentio/kafka-go"
)

const (
	// kafkaRetryDelay は読み込みエラー後に再試行するまでの待ち時間。
	kafkaRetryDelay = time.Second
	// kafkaCommitTimeout は1回のコミットの制限時間。
	kafkaCommitTimeout = 5 * time.Second
	// kafkaMaxInFlight はコミット待ちにできるメッセージの最大数。
	kafkaMaxInFlight = 256
)

// MessageReader はKafkaのコンシューマー。*kafka.Reader が満たす。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader はコンシューマーグループで購読するkafka.Readerを生成する。
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// KafkaSource はKafkaトピックに流れる作成イベントを供給する。
// メッセージのキーがレコードID、値がフィールドのJSONオブジェクト。
// 値が空またはnullのメッセージはレコードが存在しないイベントとして扱う。
type KafkaSource struct {
	// reader はトピックのコンシューマー。
	reader MessageReader
	// logger はソースのロガー。
	logger log.Logger
}

// NewKafkaSource は新しいKafkaSourceを生成する。readerはRunの終了時に閉じられる。
func NewKafkaSource(reader MessageReader, logger log.Logger) *KafkaSource {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &KafkaSource{
		reader: reader,
		logger: logger,
	}
}

// Name は供給元の名前を返す。
func (s *KafkaSource) Name() string {
	return "kafka"
}

// Run はメッセージを読み込んでemitに渡し、呼び出しが終わったものから取得順にオフセットをコミットする。
// コミットは呼び出しの完了後なので、処理中にプロセスが落ちたメッセージは再配信される。
// 解釈できないメッセージはログに記録して読み飛ばす。
func (s *KafkaSource) Run(ctx context.Context, emit EmitFunc) error {
	commits := make(chan pendingCommit, kafkaMaxInFlight)
	committed := make(chan struct{})
	go func() {
		defer close(committed)
		s.commitLoop(ctx, commits)
	}()

	defer func() {
		close(commits)
		<-committed
		if err := s.reader.Close(); err != nil {
			_ = level.Warn(s.logger).Log("msg", "Kafkaコンシューマーのクローズに失敗しました", "err", err)
		}
	}()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_ = level.Warn(s.logger).Log("msg", "Kafkaメッセージの読み込みに失敗しました", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(kafkaRetryDelay):
			}
			continue
		}

		var done <-chan struct{}
		ev, err := decodeMessage(msg)
		if err != nil {
			_ = level.Warn(s.logger).Log(
				"msg", "解釈できないメッセージを読み飛ばします",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"err", err,
			)
			ch := make(chan struct{})
			close(ch)
			done = ch
		} else {
			done = emit(ev)
		}

		// 開始した呼び出しは停止中でもコミット待ちに積む
		p := pendingCommit{msg: msg, done: done}
		select {
		case commits <- p:
			continue
		default:
		}
		select {
		case commits <- p:
		case <-ctx.Done():
			return nil
		}
	}
}

// pendingCommit は呼び出しの完了を待っているメッセージ。
type pendingCommit struct {
	// msg はコミットするメッセージ。
	msg kafka.Message
	// done は呼び出しが終わると閉じられる。
	done <-chan struct{}
}

// commitLoop は取得順に呼び出しの完了を待ってオフセットをコミットする。
// 停止後も実行中の呼び出しを待ってからコミットする。
func (s *KafkaSource) commitLoop(ctx context.Context, commits <-chan pendingCommit) {
	cctx := context.WithoutCancel(ctx)
	for p := range commits {
		<-p.done

		commitCtx, cancel := context.WithTimeout(cctx, kafkaCommitTimeout)
		err := s.reader.CommitMessages(commitCtx, p.msg)
		cancel()
		if err != nil {
			_ = level.Warn(s.logger).Log(
				"msg", "オフセットのコミットに失敗しました",
				"partition", p.msg.Partition,
				"offset", p.msg.Offset,
				"err", err,
			)
		}
	}
}

// decodeMessage はKafkaメッセージを作成イベントに変換する。
func decodeMessage(msg kafka.Message) (dispatcher.Event, error) {
	id := string(msg.Key)
	if id == "" {
		return dispatcher.Event{}, errors.New("メッセージキー（レコードID）が空です")
	}
	ev := dispatcher.Event{NotificationID: id}

	value := bytes.TrimSpace(msg.Value)
	if len(value) == 0 {
		return ev, nil
	}

	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return dispatcher.Event{}, fmt.Errorf("メッセージ値のデシリアライズに失敗: %w", err)
	}
	if data != nil {
		ev.Data = record.FieldsOf(data)
	}
	return ev, nil
}
