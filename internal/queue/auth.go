package queue

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Queue deliveries cross an HTTP boundary, so the internal step endpoint only
// accepts requests carrying a token minted here.

const tokenTTL = 5 * time.Minute

func SignToken(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("missing queue secret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "inkwell-queue",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func VerifyToken(secret, token string) error {
	if secret == "" {
		return fmt.Errorf("missing queue secret")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer("inkwell-queue"), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid queue token")
	}
	return nil
}
