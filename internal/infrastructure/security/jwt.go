// Package security provides JWT service token utilities
package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ValidateJWT validates a JWT token and returns the claims
func ValidateJWT(tokenString, jwtSecret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// ServiceFromClaims extracts the calling service name from validated claims.
func ServiceFromClaims(claims jwt.MapClaims) string {
	if svc, ok := claims["service"].(string); ok {
		return svc
	}
	return ""
}

// GenerateServiceToken creates an HS256 token the bot layer uses to call the
// risk engine.
func GenerateServiceToken(service, jwtSecret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"service": service,
		"iat":     time.Now().UTC().Unix(),
		"exp":     time.Now().UTC().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
