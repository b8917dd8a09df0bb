package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer はこのシステムが発行するトークンのiss。
const Issuer = "pendingpush-docstore"

// contextKeySubject はGinコンテキストに認証済みサブジェクトを格納するキー。
const contextKeySubject = "subject"

// Claims はサービス間認証トークンのクレーム。
// Subjectには呼び出し元のサービス名（例: "dispatcher"）やプロデューサー名を入れる。
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateJWT はサブジェクトを指定してHS256で署名したトークンを生成する。
// ttlが0以下の場合は有効期限を設定しない。
func GenerateJWT(secret, subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("サブジェクトが空です")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにサブジェクトを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
		)
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeySubject, claims.Subject)
		c.Next()
	}
}

// GetSubject はGinコンテキストから認証済みサブジェクトを取得する。
// JWTAuthミドルウェアが適用されていない場合は空文字列を返す。
func GetSubject(c *gin.Context) string {
	v, _ := c.Get(contextKeySubject)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
