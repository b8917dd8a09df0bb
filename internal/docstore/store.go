package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/pendingpush/pkg/record"
)

var (
	// ErrNotFound はドキュメントが存在しないことを表す。
	ErrNotFound = errors.New("ドキュメントが見つかりません")
	// ErrInvalidField は更新できないフィールド名や値が含まれていることを表す。
	ErrInvalidField = errors.New("フィールドが不正です")
)

// sqlNow はSQLiteの時計で現在日時をRFC3339形式で得る式。
const sqlNow = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

// Document はコレクションに保存されたドキュメント。
type Document struct {
	// Collection はコレクション名。
	Collection string `json:"collection"`
	// ID はドキュメントの一意識別子。
	ID string `json:"id"`
	// Data はドキュメントのフィールド。
	Data map[string]any `json:"data"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は最終更新日時。
	UpdatedAt time.Time `json:"updated_at"`
}

// Change は変更フィードの1件（ドキュメントの作成）。
type Change struct {
	// Seq は変更フィード内の連番。
	Seq int64 `json:"seq"`
	// DocumentID は作成されたドキュメントのID。
	DocumentID string `json:"document_id"`
	// Data は取得時点のドキュメントのフィールド。削除済みの場合はnil。
	Data map[string]any `json:"data"`
	// CreatedAt は変更が記録された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Store はSQLite上のドキュメントストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore は新しいStoreを生成する。dbはMigrate済みであること。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create はドキュメントを作成し、変更フィードに記録する。IDはストアが割り当てる。
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`,
		collection, id, string(encoded),
	); err != nil {
		return nil, fmt.Errorf("ドキュメントの作成に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO changes (collection, document_id) VALUES (?, ?)`,
		collection, id,
	); err != nil {
		return nil, fmt.Errorf("変更フィードへの記録に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	return s.Get(ctx, collection, id)
}

// Get はドキュメントを取得する。
func (s *Store) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection, id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	return doc, nil
}

// List はコレクションのドキュメントを作成日時順に返す。
// stateが空でなければ配信状態で絞り込む。
func (s *Store) List(ctx context.Context, collection string, state record.State, limit int) ([]Document, error) {
	query := `SELECT collection, id, data, created_at, updated_at FROM documents WHERE collection = ?`
	switch state {
	case "":
	case record.StateDelivered:
		query += ` AND json_type(data, '$.delivered') = 'true'`
	case record.StateFailed:
		query += ` AND json_type(data, '$.delivered') = 'false'`
	case record.StatePending:
		query += ` AND COALESCE(json_type(data, '$.delivered'), '') NOT IN ('true', 'false')`
	default:
		return nil, fmt.Errorf("未知の状態です: %s", state)
	}
	query += ` ORDER BY created_at, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ドキュメントの読み取りに失敗: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Update はパッチを1つのUPDATE文でアトミックに適用する。
// record.ServerTimestampはSQLiteの時計で解決し、record.Deleteはフィールドを削除する。
// 同じドキュメントへの並行更新は後勝ちになる。
func (s *Store) Update(ctx context.Context, collection, id string, patch record.Patch) (*Document, error) {
	if len(patch) == 0 {
		return s.Get(ctx, collection, id)
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		if err := validateFieldName(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	expr := "data"
	args := make([]any, 0, len(keys)*2+2)
	for _, k := range keys {
		path := `$."` + k + `"`
		switch v := patch[k].(type) {
		case record.Sentinel:
			switch v {
			case record.ServerTimestamp:
				expr = fmt.Sprintf("json_set(%s, ?, %s)", expr, sqlNow)
				args = append(args, path)
			case record.Delete:
				expr = fmt.Sprintf("json_remove(%s, ?)", expr)
				args = append(args, path)
			default:
				return nil, fmt.Errorf("%w: 未知のセンチネル %q", ErrInvalidField, string(v))
			}
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, k, err)
			}
			expr = fmt.Sprintf("json_set(%s, ?, json(?))", expr)
			args = append(args, path, string(encoded))
		}
	}
	args = append(args, collection, id)

	query := fmt.Sprintf(
		`UPDATE documents SET data = %s, updated_at = %s WHERE collection = ? AND id = ?`,
		expr, sqlNow,
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, collection, id)
}

// Delete はドキュメントを削除する。変更フィードの記録は残る。
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChangesAfter はseqがafterより大きい変更を古い順に最大limit件返す。
// 変更後に削除されたドキュメントはDataがnilになる。
func (s *Store) ChangesAfter(ctx context.Context, collection string, after int64, limit int) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.seq, c.document_id, d.data, c.created_at
		FROM changes c
		LEFT JOIN documents d ON d.collection = c.collection AND d.id = c.document_id
		WHERE c.collection = ? AND c.seq > ?
		ORDER BY c.seq
		LIMIT ?`,
		collection, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("変更フィードの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	changes := []Change{}
	for rows.Next() {
		var (
			c         Change
			data      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.Seq, &c.DocumentID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("変更の読み取りに失敗: %w", err)
		}
		if data.Valid {
			if c.Data, err = decodeData(data.String); err != nil {
				return nil, err
			}
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Head は変更フィードの最新のseqを返す。変更がなければ0。
func (s *Store) Head(ctx context.Context, collection string) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM changes WHERE collection = ?`, collection,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("変更フィードの先頭の取得に失敗: %w", err)
	}
	return seq, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument は1行をDocumentに変換する。
func scanDocument(row scanner) (*Document, error) {
	var (
		doc                  Document
		data                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&doc.Collection, &doc.ID, &data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if doc.Data, err = decodeData(data); err != nil {
		return nil, err
	}
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}

// decodeData は保存されたJSONをmapに変換する。数値はjson.Numberで保持する。
func decodeData(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// parseTime はSQLiteに保存した日時文字列を解析する。
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日時の解析に失敗: %w", err)
	}
	return t, nil
}

// validateFieldName はJSONパスに埋め込めるフィールド名かを検証する。
func validateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: フィールド名が空です", ErrInvalidField)
	}
	if strings.ContainsAny(name, "\"\\") {
		return fmt.Errorf("%w: フィールド名に使用できない文字が含まれています: %q", ErrInvalidField, name)
	}
	return nil
}
