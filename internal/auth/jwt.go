package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer в токенах админ-API
const Issuer = "mmo-replay"

var (
	secretMu  sync.RWMutex
	jwtSecret []byte
)

func init() {
	jwtSecret = make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		jwtSecret = []byte("development-secret-key-change-in-production")
	}
}

// ErrInvalidToken токен не прошёл проверку
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims полезная нагрузка токена оператора
type Claims struct {
	Operator string `json:"operator"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateJWT подписывает токен для оператора
func GenerateJWT(op Operator) (string, error) {
	if op.Name == "" {
		return "", errors.New("auth: пустое имя оператора")
	}
	ttl := op.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		Operator: op.Name,
		IsAdmin:  op.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   op.Name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	secretMu.RLock()
	defer secretMu.RUnlock()
	return token.SignedString(jwtSecret)
}

// ValidateJWT проверяет подпись, срок и издателя
func ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		secretMu.RLock()
		defer secretMu.RUnlock()
		return jwtSecret, nil
	}, jwt.WithIssuer(Issuer))

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret новый секрет в base64
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SetJWTSecret устанавливает секрет из конфига (base64, минимум 32 байта)
func SetJWTSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return fmt.Errorf("auth: секрет не в base64: %w", err)
	}
	if len(decoded) < 32 {
		return errors.New("auth: секрет короче 32 байт")
	}
	secretMu.Lock()
	jwtSecret = decoded
	secretMu.Unlock()
	return nil
}
