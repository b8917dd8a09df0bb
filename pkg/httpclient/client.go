package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout はリクエスト全体のタイムアウトの既定値。
const defaultTimeout = 30 * time.Second

// maxErrorBody はエラー時にStatusErrorへ含めるレスポンスボディの最大バイト数。
const maxErrorBody = 4096

// Client はサービス間通信用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// token はAuthorizationヘッダーに設定するBearerトークン。空の場合は設定しない。
	token string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithBearerToken は全リクエストに "Authorization: Bearer <token>" を付与する。
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout はリクエスト全体のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New は新しいサービス間通信用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://docstore:8090"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError は2xx以外のレスポンスを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ（先頭のみ）。
	Body string
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// PatchJSON は指定パスにJSONボディでPATCHリクエストを送信する。
func (c *Client) PatchJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPatch, path, body, result)
}

// Delete は指定パスにDELETEリクエストを送信する。
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
