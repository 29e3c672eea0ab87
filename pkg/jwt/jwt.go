package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// AgentClaims - claims токена агента поддержки
type AgentClaims struct {
	AgentID    string `json:"agent_id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	jwt.RegisteredClaims
}

func GenerateAgentToken(agentID, businessID, name, secret, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AgentClaims{
		AgentID:    agentID,
		BusinessID: businessID,
		Name:       name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateAgentToken парсит и валидирует токен агента
func ValidateAgentToken(tokenString, secret string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid || claims.AgentID == "" || claims.BusinessID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
