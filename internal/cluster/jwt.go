package cluster

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// sessionClaims wraps a Session in a JWT so a client can present it back to
// central on its next connection without a database round trip.
type sessionClaims struct {
	jwt.RegisteredClaims
	Session
}

// IssueToken signs sess under masterKey, the per-run key central generates
// on startup (spec.md: "JWTs signed with a per-run master key").
func IssueToken(masterKey []byte, sess Session, ttl time.Duration) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Session: sess,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(masterKey)
	if err != nil {
		return "", loaditerr.Wrap(loaditerr.KindPermission, "sign session token", err)
	}
	return signed, nil
}

// ParseToken verifies tokenString against masterKey and recovers the
// embedded Session.
func ParseToken(masterKey []byte, tokenString string) (Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return masterKey, nil
	})
	if err != nil {
		return Session{}, loaditerr.Wrap(loaditerr.KindPermission, "parse session token", err)
	}
	return claims.Session, nil
}
