package mockserver

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// credentialTTL matches the short lifetime of the managed service's OAuth
// database tokens.
const credentialTTL = 15 * time.Minute

type credentialClaims struct {
	jwt.RegisteredClaims
}

// mintCredentialToken creates a signed short-lived token for a database role.
// The same string doubles as the role's Postgres password, so the data plane
// accepts exactly what the control plane handed out.
func mintCredentialToken(secret []byte, user string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(credentialTTL)

	claims := &credentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// verifyCredentialToken parses and validates a minted token.
func verifyCredentialToken(tokenStr string, secret []byte) (*credentialClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &credentialClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*credentialClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
