// ドキュメントストアサービスのエントリポイント。
// ローカル開発用に、通知レコードのコレクションと作成の変更フィードをHTTPで提供する。
//
// サブコマンド token はサービスにアクセスするためのトークンを発行する。
//
//	docstore token -jwt-secret SECRET -subject dispatcher
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

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/nao1215/pendingpush/internal/config"
	"github.com/nao1215/pendingpush/internal/docstore"
	"github.com/nao1215/pendingpush/pkg/logging"
	"github.com/nao1215/pendingpush/pkg/middleware"
	"github.com/oklog/run"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:])
	} else {
		err = runServer(os.Args[1:])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ドキュメントストアの実行に失敗: %v\n", err)
		os.Exit(1)
	}
}

// runToken はトークンを発行して標準出力に書き出す。
func runToken(args []string) error {
	cfg, err := config.ParseToken(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := middleware.GenerateJWT(cfg.JWTSecret, cfg.Subject, cfg.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// runServer はデータベースを開いてHTTPサーバーを起動する。
func runServer(args []string) error {
	cfg, err := config.ParseDocstore(args)
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

	db, err := docstore.Open(ctx, cfg.DBPath, logging.With(logger, "migration"))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	server := docstore.NewServer(docstore.NewStore(db), cfg.JWTSecret, logging.With(logger, "http"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group
	g.Add(func() error {
		_ = level.Info(logger).Log("msg", "ドキュメントストアを起動します", "addr", srv.Addr, "db_path", cfg.DBPath)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ドキュメントストアの起動に失敗: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = level.Error(logger).Log("msg", "ドキュメントストアの停止に失敗しました", "err", err)
		}
	})

	sigCtx, sigCancel := context.WithCancel(ctx)
	g.Add(func() error {
		waitSignal(sigCtx, logger)
		return nil
	}, func(error) {
		sigCancel()
	})

	return g.Run()
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
