package downloads

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "stardrive"

// Claims are the JWT claims of a download token.
type Claims struct {
	DownloadID string `json:"download_id"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies download tokens with HMAC-SHA256.
type Tokens struct {
	secret []byte
}

// NewTokens creates a token issuer. The secret must not be empty.
func NewTokens(secret string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("download token secret is required")
	}
	return &Tokens{secret: []byte(secret)}, nil
}

// Sign issues a token for a download record that expires at expiresAt.
func (t *Tokens) Sign(downloadID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		DownloadID: downloadID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its download ID.
func (t *Tokens) Parse(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if claims.DownloadID == "" {
		return "", fmt.Errorf("%w: token has no download id", ErrInvalidLink)
	}
	return claims.DownloadID, nil
}
