package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseDispatcher(t *testing.T) {
	t.Parallel()

	t.Run("正常系_既定値はFirestoreとFCM", func(t *testing.T) {
		t.Parallel()

		cfg, err := ParseDispatcher(nil)
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.Source != SourceFirestore || cfg.Sender != SenderFCM || cfg.Store != StoreFirestore {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.Collection != "pending_notifications" {
			t.Errorf("Collection = %s, want pending_notifications", cfg.Collection)
		}
		if cfg.InvocationTimeout != 60*time.Second {
			t.Errorf("InvocationTimeout = %v, want 60s", cfg.InvocationTimeout)
		}
		if !cfg.NeedsFirebase() || !cfg.NeedsFirestore() {
			t.Error("Firebaseが必要と判定されない")
		}
	})

	t.Run("正常系_ドキュメントストアとリレーの構成ではFirebaseが不要", func(t *testing.T) {
		t.Parallel()

		cfg, err := ParseDispatcher([]string{
			"-source", "docstore", "-store", "docstore", "-sender", "relay",
			"-relay-url", "http://relay:8080", "-poll-interval", "500ms",
		})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.NeedsFirebase() {
			t.Error("Firebaseが必要と判定された")
		}
		if cfg.PollInterval != 500*time.Millisecond {
			t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
		}
	})

	t.Run("正常系_Kafkaブローカーはカンマ区切りで指定できる", func(t *testing.T) {
		t.Parallel()

		cfg, err := ParseDispatcher([]string{"-source", "kafka", "-kafka-brokers", "a:9092, b:9092,,"})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if want := []string{"a:9092", "b:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
			t.Errorf("KafkaBrokers = %v, want %v", cfg.KafkaBrokers, want)
		}
	})

	t.Run("正常系_設定ファイルから読み込める", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "dispatcher.conf")
		content := "sender relay\nrelay-url http://relay\nops-port 0\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("設定ファイルの作成に失敗: %v", err)
		}

		cfg, err := ParseDispatcher([]string{"-config", path})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.Sender != SenderRelay || cfg.RelayURL != "http://relay" || cfg.OpsPort != 0 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("異常系_不正な組み合わせはまとめて報告される", func(t *testing.T) {
		t.Parallel()

		_, err := ParseDispatcher([]string{"-source", "pubsub", "-sender", "relay", "-store", "redis"})
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
		for _, want := range []string{"source", "relay-url", "store"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("err = %v, want %sを含む", err, want)
			}
		}
	})

	t.Run("異常系_未定義のフラグはエラー", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseDispatcher([]string{"-unknown"}); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}

func TestParseDispatcher_Env(t *testing.T) {
	t.Setenv("PENDINGPUSH_SOURCE", "docstore")
	t.Setenv("PENDINGPUSH_DOCSTORE_TOKEN", "tok")

	t.Run("正常系_環境変数から読み込める", func(t *testing.T) {
		cfg, err := ParseDispatcher(nil)
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.Source != SourceDocstore || cfg.DocstoreToken != "tok" {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("正常系_フラグが環境変数より優先される", func(t *testing.T) {
		cfg, err := ParseDispatcher([]string{"-source", "firestore"})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.Source != SourceFirestore {
			t.Errorf("Source = %s, want firestore", cfg.Source)
		}
	})
}

func TestParseDocstore(t *testing.T) {
	t.Parallel()

	t.Run("正常系_署名鍵を指定して起動できる", func(t *testing.T) {
		t.Parallel()

		cfg, err := ParseDocstore([]string{"-jwt-secret", "s", "-db-path", ":memory:"})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.Port != 8090 || cfg.DBPath != ":memory:" {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("異常系_署名鍵がないとエラー", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseDocstore(nil); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	t.Run("正常系_サブジェクトと有効期間", func(t *testing.T) {
		t.Parallel()

		cfg, err := ParseToken([]string{"-jwt-secret", "s", "-subject", "dispatcher", "-ttl", "24h"})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if cfg.Subject != "dispatcher" || cfg.TTL != 24*time.Hour {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("異常系_サブジェクトがないとエラー", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseToken([]string{"-jwt-secret", "s"}); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}
