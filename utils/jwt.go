package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"cadencer/config"
)

// Claims is the token payload issued by the surrounding identity service.
type Claims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// ParseJWTToken validates a bearer token and returns its claims.
func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
