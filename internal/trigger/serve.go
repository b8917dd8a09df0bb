package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/nao1215/pendingpush/internal/dispatcher"
)

// DefaultInvocationTimeout は1回の呼び出しに与える既定の制限時間。
const DefaultInvocationTimeout = 60 * time.Second

// Source は作成イベントの供給元。
type Source interface {
	// Name はログやヘルスチェックに表示する供給元の名前を返す。
	Name() string
	// Run はctxが終了するか致命的なエラーが起きるまでイベントをemitに渡し続ける。
	// ctxの終了による停止ではnilを返す。
	Run(ctx context.Context, emit EmitFunc) error
}

// EmitFunc はイベントを1件の呼び出しとして開始する。
// 戻り値のチャネルはその呼び出しが終わると閉じられる。
type EmitFunc func(ev dispatcher.Event) <-chan struct{}

// EventHandler は1件の作成イベントを処理する。*dispatcher.Handler が満たす。
type EventHandler interface {
	Handle(ctx context.Context, ev dispatcher.Event) error
}

// Options はServeの動作設定。
type Options struct {
	// InvocationTimeout は1回の呼び出しの制限時間。0の場合はDefaultInvocationTimeout、負の場合は無制限。
	InvocationTimeout time.Duration
}

// timeout は実際に使う制限時間を返す。
func (o Options) timeout() time.Duration {
	if o.InvocationTimeout == 0 {
		return DefaultInvocationTimeout
	}
	return o.InvocationTimeout
}

// Serve はsrcからのイベントごとにgoroutineを起動してhandlerを呼び出す。
// srcが停止した後、実行中の呼び出しがすべて終わるのを待ってから戻る。
// 実行中の呼び出しはctxの終了では中断されず、制限時間まで処理を続ける。
func Serve(ctx context.Context, src Source, handler EventHandler, opts Options, logger log.Logger) error {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "source", src.Name())

	var wg sync.WaitGroup
	emit := func(ev dispatcher.Event) <-chan struct{} {
		done := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done)
			invoke(ctx, handler, ev, opts.timeout(), logger)
		}()
		return done
	}

	_ = level.Info(logger).Log("msg", "イベントの受信を開始します")
	err := src.Run(ctx, emit)
	wg.Wait()
	_ = level.Info(logger).Log("msg", "イベントの受信を停止しました")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("イベント供給元 %s が停止しました: %w", src.Name(), err)
	}
	return nil
}

// invoke は1件のイベントを独立した呼び出しとして処理する。
// ハンドラのエラーとパニックは呼び出しの失敗としてログに記録する。
func invoke(ctx context.Context, handler EventHandler, ev dispatcher.Event, timeout time.Duration, logger log.Logger) {
	logger = log.With(logger,
		"invocation_id", uuid.New().String(),
		"notification_id", ev.NotificationID,
	)

	ictx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ictx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			_ = level.Error(logger).Log("msg", "呼び出しがパニックしました", "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := handler.Handle(ictx, ev); err != nil {
		_ = level.Error(logger).Log("msg", "呼び出しに失敗しました", "err", err)
		return
	}
	_ = level.Debug(logger).Log("msg", "呼び出しが完了しました", "elapsed", time.Since(start))
}
