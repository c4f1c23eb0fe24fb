package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Role はトークンの利用者の種類を表す。
type Role string

const (
	// RoleUser はCRMにログインしているエンドユーザー。
	RoleUser Role = "user"
	// RoleSystem は割り当て変更ワークフロー等のバックグラウンド処理。
	// 権限チェックを経ずに通知を作成できる。
	RoleSystem Role = "system"
)

const (
	// issuer はトークンの発行者。
	issuer = "crm"
	// contextKeyUserID はGinコンテキストのユーザーIDキー。
	contextKeyUserID = "user_id"
	// contextKeyRole はGinコンテキストのロールキー。
	contextKeyRole = "role"
	// queryKeyToken はWebSocket接続時にトークンを渡すクエリパラメータ。
	// ブラウザのWebSocket APIはヘッダーを設定できないため使用する。
	queryKeyToken = "token"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Role は利用者の種類。
	Role Role `json:"role"`
}

// GenerateJWT はユーザーIDとロールからJWTトークンを生成する。
func GenerateJWT(secret, userID string, role Role) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer）またはクエリパラメータtokenから取得する。
// 検証に成功した場合、コンテキストに "user_id" と "role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証トークンが必要です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleUser
		}
		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyRole, role)
		c.Next()
	}
}

// RequireRole は指定ロール以外のリクエストを403で拒否するGinミドルウェアを返す。
// JWTAuthの後に適用する。
func RequireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// bearerToken はリクエストからトークン文字列を取り出す。
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		return tokenString, found && tokenString != ""
	}
	if tokenString := c.Query(queryKeyToken); tokenString != "" {
		return tokenString, true
	}
	return "", false
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) Role {
	v, _ := c.Get(contextKeyRole)
	role, _ := v.(Role)
	return role
}
