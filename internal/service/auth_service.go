package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService validates bearer tokens issued by the learning platform.
type AuthService struct {
	jwtSecret []byte
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateToken parses and validates a JWT token string, returning the user ID.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, err := claims.GetSubject()
	if err != nil || userID == "" {
		return "", fmt.Errorf("invalid subject claim")
	}

	return userID, nil
}

// IssueToken signs an HS256 token for userID that expires after ttl.
func (s *AuthService) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
