package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 72 * time.Hour

// GenerateJWT signs an HS256 token carrying the userId and email claims.
func GenerateJWT(secret []byte, userID uint, email string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("JWT secret not set")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"email":  email,
		"exp":    time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// ParseJWT validates tokenString and returns its userId and email claims.
func ParseJWT(secret []byte, tokenString string) (uint, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errors.New("invalid claims")
	}
	email, _ := claims["email"].(string)

	// numbers decode as float64 from JSON
	switch id := claims["userId"].(type) {
	case float64:
		if id >= 1 {
			return uint(id), email, nil
		}
	case int64:
		if id >= 1 {
			return uint(id), email, nil
		}
	}
	return 0, "", errors.New("userId claim missing")
}
