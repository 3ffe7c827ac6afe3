// Package token mints and verifies the short-lived credentials that
// authenticate a single websocket handshake. Tokens are stateless HS256
// JWTs: issuing one has no side effect on the connection registry, and
// verification needs only the signing key.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim   = "user-id"
	userNameClaim = "user-name"
	purposeClaim  = "purpose"
	expClaim      = "exp"
	iatClaim      = "iat"

	// connectPurpose scopes a token to the websocket handshake so a
	// leaked connection token cannot be replayed against REST endpoints.
	connectPurpose = "connect"
)

var (
	// ErrTokenExpired is recoverable: the client should request a fresh
	// token and retry the handshake.
	ErrTokenExpired = errors.New("connection token expired")
	// ErrTokenInvalid is not: the token is malformed, has a bad
	// signature or the wrong purpose, and the client must re-login.
	ErrTokenInvalid = errors.New("connection token invalid")
)

// Identity is the authenticated subject carried by a connection token.
type Identity struct {
	UserId   int
	UserName string
}

type Issuer struct {
	signingKey []byte
	ttl        time.Duration
}

func NewIssuer(signingKey []byte, ttl time.Duration) *Issuer {
	return &Issuer{signingKey: signingKey, ttl: ttl}
}

func (i *Issuer) IssueToken(userId int, userName string) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   userId,
		userNameClaim: userName,
		purposeClaim:  connectPurpose,
		iatClaim:      now.Unix(),
		expClaim:      now.Add(i.ttl).Unix(),
	})

	signed, err := t.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (i *Issuer) VerifyToken(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.signingKey, nil
	})
	if err != nil {
		// Expiry must be distinguished from everything else: expired
		// means refresh-and-retry, invalid means re-login.
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	if !t.Valid {
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}

	if purpose, _ := claims[purposeClaim].(string); purpose != connectPurpose {
		return Identity{}, ErrTokenInvalid
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}

	userName, _ := claims[userNameClaim].(string)

	return Identity{
		UserId:   int(userId),
		UserName: userName,
	}, nil
}
