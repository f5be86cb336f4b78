package util

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 自定義 JWT 負載。DBID 在發 token 時由 Tenant Resolver 算好放入，
// 之後每個請求直接信任這個 claim，不再重算。
type Claims struct {
	Username string `json:"username"`
	DBID     string `json:"db_id"`
	jwt.RegisteredClaims
}

// GenerateToken 生成使用者的 JWT，可指定有效期。
func GenerateToken(secret, username, dbID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		DBID:     dbID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 解析並驗證 JWT，返回 Claims。
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
