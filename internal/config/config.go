package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/pendingpush/internal/trigger"
	"github.com/nao1215/pendingpush/pkg/record"
	"github.com/peterbourgon/ff/v3"
)

// EnvVarPrefix は環境変数の接頭辞。
const EnvVarPrefix = "PENDINGPUSH"

// イベント供給元の種類。
const (
	SourceFirestore = "firestore"
	SourceDocstore  = "docstore"
	SourceKafka     = "kafka"
)

// 配信方式の種類。
const (
	SenderFCM   = "fcm"
	SenderRelay = "relay"
)

// 書き戻し先の種類。
const (
	StoreFirestore = "firestore"
	StoreDocstore  = "docstore"
)

// Dispatcher はディスパッチャーの設定。
type Dispatcher struct {
	// Source はイベント供給元（firestore, docstore, kafka）。
	Source string
	// Sender は配信方式（fcm, relay）。
	Sender string
	// Store は書き戻し先（firestore, docstore）。
	Store string
	// ProjectID はFirebaseのプロジェクトID。空の場合は認証情報から推定する。
	ProjectID string
	// CredentialsFile はサービスアカウントの鍵ファイル。空の場合はアプリケーションデフォルト認証情報を使う。
	CredentialsFile string
	// Collection は監視するコレクション名。
	Collection string
	// DocstoreURL はドキュメントストアサービスのベースURL。
	DocstoreURL string
	// DocstoreToken はドキュメントストアサービスのBearerトークン。
	DocstoreToken string
	// PollInterval は変更フィードのポーリング間隔。
	PollInterval time.Duration
	// KafkaBrokers はKafkaブローカーのアドレス一覧。
	KafkaBrokers []string
	// KafkaTopic は作成イベントのトピック。
	KafkaTopic string
	// KafkaGroup はコンシューマーグループID。
	KafkaGroup string
	// RelayURL はプッシュゲートウェイのベースURL。
	RelayURL string
	// InvocationTimeout は1回の呼び出しの制限時間。
	InvocationTimeout time.Duration
	// OpsPort は運用サーバーのポート。0の場合は起動しない。
	OpsPort int
	// LogFormat はログの形式（logfmt, json）。
	LogFormat string
	// Debug はデバッグログを出力するかどうか。
	Debug bool
}

// ParseDispatcher はディスパッチャーの設定を解析して検証する。
func ParseDispatcher(args []string) (*Dispatcher, error) {
	fs := flag.NewFlagSet("dispatcher", flag.ContinueOnError)
	var (
		cfg          Dispatcher
		kafkaBrokers string
	)
	fs.StringVar(&cfg.Source, "source", SourceFirestore, "イベント供給元 (firestore|docstore|kafka)")
	fs.StringVar(&cfg.Sender, "sender", SenderFCM, "配信方式 (fcm|relay)")
	fs.StringVar(&cfg.Store, "store", StoreFirestore, "書き戻し先 (firestore|docstore)")
	fs.StringVar(&cfg.ProjectID, "project-id", "", "FirebaseのプロジェクトID")
	fs.StringVar(&cfg.CredentialsFile, "credentials-file", "", "サービスアカウントの鍵ファイル")
	fs.StringVar(&cfg.Collection, "collection", record.DefaultCollection, "監視するコレクション")
	fs.StringVar(&cfg.DocstoreURL, "docstore-url", "http://localhost:8090", "ドキュメントストアのURL")
	fs.StringVar(&cfg.DocstoreToken, "docstore-token", "", "ドキュメントストアのBearerトークン")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", trigger.DefaultPollInterval, "変更フィードのポーリング間隔")
	fs.StringVar(&kafkaBrokers, "kafka-brokers", "localhost:9092", "Kafkaブローカー（カンマ区切り）")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", record.DefaultCollection, "作成イベントのトピック")
	fs.StringVar(&cfg.KafkaGroup, "kafka-group", "pendingpush-dispatcher", "コンシューマーグループID")
	fs.StringVar(&cfg.RelayURL, "relay-url", "", "プッシュゲートウェイのURL")
	fs.DurationVar(&cfg.InvocationTimeout, "invocation-timeout", trigger.DefaultInvocationTimeout, "1回の呼び出しの制限時間")
	fs.IntVar(&cfg.OpsPort, "ops-port", 8085, "運用サーバーのポート（0で無効）")
	fs.StringVar(&cfg.LogFormat, "log-format", "logfmt", "ログの形式 (logfmt|json)")
	fs.BoolVar(&cfg.Debug, "debug", false, "デバッグログを出力する")
	_ = fs.String("config", "", "設定ファイル")

	if err := parse(fs, args); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = splitList(kafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定の組み合わせを検証する。
func (c *Dispatcher) Validate() error {
	var errs []error

	switch c.Source {
	case SourceFirestore, SourceDocstore:
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" || c.KafkaGroup == "" {
			errs = append(errs, errors.New("kafkaにはkafka-brokers, kafka-topic, kafka-groupが必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("sourceが不正です: %s", c.Source))
	}

	switch c.Sender {
	case SenderFCM:
	case SenderRelay:
		if c.RelayURL == "" {
			errs = append(errs, errors.New("relayにはrelay-urlが必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("senderが不正です: %s", c.Sender))
	}

	switch c.Store {
	case StoreFirestore, StoreDocstore:
	default:
		errs = append(errs, fmt.Errorf("storeが不正です: %s", c.Store))
	}

	if (c.Source == SourceDocstore || c.Store == StoreDocstore) && c.DocstoreURL == "" {
		errs = append(errs, errors.New("docstoreにはdocstore-urlが必要です"))
	}
	if c.Collection == "" {
		errs = append(errs, errors.New("collectionが空です"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll-intervalは正の値である必要があります"))
	}
	if c.OpsPort < 0 || c.OpsPort > 65535 {
		errs = append(errs, fmt.Errorf("ops-portが不正です: %d", c.OpsPort))
	}

	return errors.Join(errs...)
}

// NeedsFirebase はFirebaseアプリの初期化が必要な構成かどうかを返す。
func (c *Dispatcher) NeedsFirebase() bool {
	return c.NeedsFirestore() || c.Sender == SenderFCM
}

// NeedsFirestore はFirestoreクライアントが必要な構成かどうかを返す。
func (c *Dispatcher) NeedsFirestore() bool {
	return c.Source == SourceFirestore || c.Store == StoreFirestore
}

// Docstore はドキュメントストアサービスの設定。
type Docstore struct {
	// Port はHTTPサーバーのポート。
	Port int
	// DBPath はSQLiteデータベースファイルのパス。":memory:" も指定できる。
	DBPath string
	// JWTSecret はトークンの署名鍵。
	JWTSecret string
	// LogFormat はログの形式（logfmt, json）。
	LogFormat string
	// Debug はデバッグログを出力するかどうか。
	Debug bool
}

// ParseDocstore はドキュメントストアサービスの設定を解析して検証する。
func ParseDocstore(args []string) (*Docstore, error) {
	fs := flag.NewFlagSet("docstore", flag.ContinueOnError)
	var cfg Docstore
	fs.IntVar(&cfg.Port, "port", 8090, "HTTPサーバーのポート")
	fs.StringVar(&cfg.DBPath, "db-path", "docstore.db", "SQLiteデータベースファイル")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "トークンの署名鍵")
	fs.StringVar(&cfg.LogFormat, "log-format", "logfmt", "ログの形式 (logfmt|json)")
	fs.BoolVar(&cfg.Debug, "debug", false, "デバッグログを出力する")
	_ = fs.String("config", "", "設定ファイル")

	if err := parse(fs, args); err != nil {
		return nil, err
	}

	var errs []error
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secretが必要です"))
	}
	if cfg.DBPath == "" {
		errs = append(errs, errors.New("db-pathが空です"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("portが不正です: %d", cfg.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Token はトークン発行サブコマンドの設定。
type Token struct {
	// JWTSecret はトークンの署名鍵。
	JWTSecret string
	// Subject はトークンのサブジェクト（呼び出し元の名前）。
	Subject string
	// TTL はトークンの有効期間。0の場合は無期限。
	TTL time.Duration
}

// ParseToken はトークン発行サブコマンドの設定を解析する。
func ParseToken(args []string) (*Token, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	var cfg Token
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "トークンの署名鍵")
	fs.StringVar(&cfg.Subject, "subject", "", "トークンのサブジェクト")
	fs.DurationVar(&cfg.TTL, "ttl", 0, "有効期間（0で無期限）")
	_ = fs.String("config", "", "設定ファイル")

	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" || cfg.Subject == "" {
		return nil, errors.New("jwt-secretとsubjectが必要です")
	}
	return &cfg, nil
}

// parse はフラグ、環境変数、設定ファイルを解決する。
func parse(fs *flag.FlagSet, args []string) error {
	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return fmt.Errorf("設定の解析に失敗: %w", err)
	}
	return nil
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
