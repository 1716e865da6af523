package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-relay"

// Claims carries the viewer identifier in the standard subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenValidator checks HS256 tokens issued by the identity collaborator.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// GenerateToken creates a signed JWT for a viewer.
// Issuance belongs to the identity service: this is used by tooling and tests.
func GenerateToken(secret, viewerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ViewerID validates the signature and expiration of the token and returns its subject.
func (v *TokenValidator) ViewerID(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: %v", errors.ErrUnauthenticated, jwt.ErrSignatureInvalid)
	}
	if err := domain.ValidateParticipant(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrUnauthenticated, err)
	}
	return claims.Subject, nil
}
