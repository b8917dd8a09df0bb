// ディスパッチャーのエントリポイント。
// 通知レコードの作成イベントを受けてプッシュ通知を1件ずつ配信し、
// 配信結果をレコードに書き戻す。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/internal/config"
	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/nao1215/pendingpush/internal/ops"
	"github.com/nao1215/pendingpush/internal/push"
	"github.com/nao1215/pendingpush/internal/store"
	"github.com/nao1215/pendingpush/internal/trigger"
	"github.com/nao1215/pendingpush/pkg/httpclient"
	"github.com/nao1215/pendingpush/pkg/logging"
	"github.com/oklog/run"
	"google.golang.org/api/option"
)

func main() {
	if err := runDispatcher(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ディスパッチャーの実行に失敗: %v\n", err)
		os.Exit(1)
	}
}

// runDispatcher は設定を読み込み、イベント供給元と運用サーバーを起動する。
func runDispatcher(args []string) error {
	cfg, err := config.ParseDispatcher(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.Debug)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Firebaseアプリはプロセスで1度だけ初期化する
	var app *firebase.App
	if cfg.NeedsFirebase() {
		if app, err = newFirebaseApp(ctx, cfg); err != nil {
			return err
		}
	}

	var fsClient *firestore.Client
	if cfg.NeedsFirestore() {
		if fsClient, err = app.Firestore(ctx); err != nil {
			return fmt.Errorf("Firestoreクライアントの初期化に失敗: %w", err)
		}
		defer func() { _ = fsClient.Close() }()
	}

	docClient := httpclient.New(cfg.DocstoreURL, httpclient.WithBearerToken(cfg.DocstoreToken))

	sender, err := newSender(ctx, cfg, app, logger)
	if err != nil {
		return err
	}

	var updater dispatcher.Updater
	switch cfg.Store {
	case config.StoreFirestore:
		updater = store.NewFirestoreStore(fsClient, cfg.Collection)
	default:
		updater = store.NewDocstoreStore(docClient, cfg.Collection)
	}

	var src trigger.Source
	switch cfg.Source {
	case config.SourceFirestore:
		src = trigger.NewFirestoreSource(fsClient, cfg.Collection, logging.With(logger, "firestore"))
	case config.SourceKafka:
		reader := trigger.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
		src = trigger.NewKafkaSource(reader, logging.With(logger, "kafka"))
	default:
		src = trigger.NewPollSource(docClient, cfg.Collection, cfg.PollInterval, logging.With(logger, "poller"))
	}

	handler := dispatcher.NewHandler(sender, updater, logging.With(logger, "dispatcher"))

	var g run.Group

	// イベント受信
	triggerCtx, triggerCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return trigger.Serve(triggerCtx, src, handler, trigger.Options{
			InvocationTimeout: cfg.InvocationTimeout,
		}, logging.With(logger, "trigger"))
	}, func(error) {
		triggerCancel()
	})

	// 運用サーバー
	if cfg.OpsPort > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
			Handler:           ops.NewServer(src.Name(), handler, logging.With(logger, "ops")).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "運用サーバーを起動します", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("運用サーバーの起動に失敗: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = level.Error(logger).Log("msg", "運用サーバーの停止に失敗しました", "err", err)
			}
		})
	}

	// シグナル待ち受け
	sigCtx, sigCancel := context.WithCancel(ctx)
	g.Add(func() error {
		waitSignal(sigCtx, logger)
		return nil
	}, func(error) {
		sigCancel()
	})

	_ = level.Info(logger).Log(
		"msg", "ディスパッチャーを起動します",
		"source", cfg.Source,
		"sender", cfg.Sender,
		"store", cfg.Store,
		"collection", cfg.Collection,
	)
	return g.Run()
}

// newFirebaseApp はFirebaseアプリを初期化する。
// 鍵ファイルが指定されていなければアプリケーションデフォルト認証情報を使う。
func newFirebaseApp(ctx context.Context, cfg *config.Dispatcher) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("Firebaseアプリの初期化に失敗: %w", err)
	}
	return app, nil
}

// newSender は設定に応じた配信アダプタを生成する。
func newSender(ctx context.Context, cfg *config.Dispatcher, app *firebase.App, logger log.Logger) (dispatcher.Sender, error) {
	if cfg.Sender == config.SenderRelay {
		return push.NewRelaySender(httpclient.New(cfg.RelayURL)), nil
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("FCMクライアントの初期化に失敗: %w", err)
	}
	return push.NewFCMSender(client, logging.With(logger, "fcm")), nil
}

// waitSignal はSIGINTかSIGTERMを受け取るか、ctxが終了するまで待つ。
func waitSignal(ctx context.Context, logger log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		_ = level.Info(logger).Log("msg", "シグナルを受信したため停止します", "signal", sig)
	case <-ctx.Done():
	}
}
