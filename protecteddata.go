package signalr

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid is returned by DataProtector.Unprotect when a token is
// malformed, was protected under a different purpose or key, or failed
// integrity verification. Callers must treat it like an absent token.
var ErrTokenInvalid = errors.New("token invalid")

// Token purposes. A token protected under one purpose never unprotects
// under another.
const (
	PurposeConnectionToken = "SignalR.ConnectionToken"
	PurposeGroups          = "SignalR.Groups"
)

// DataProtector produces and verifies opaque, tamper-evident tokens carried
// by clients across requests. Instances sharing the same key can unprotect
// each other's tokens, which lets any server instance behind a load balancer
// validate a token issued by a peer.
type DataProtector interface {
	Protect(data string, purpose string) (string, error)
	Unprotect(token string, purpose string) (string, error)
}

// NewDataProtector creates the default DataProtector. Tokens are HMAC-SHA256
// signed JWTs with the purpose bound as the audience claim.
func NewDataProtector(key []byte) DataProtector {
	return &keyedDataProtector{key: key}
}

type keyedDataProtector struct {
	key []byte
}

type protectedClaims struct {
	Data string `json:"dat"`
	jwt.RegisteredClaims
}

func (p *keyedDataProtector) Protect(data string, purpose string) (string, error) {
	claims := protectedClaims{
		Data: data,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: jwt.ClaimStrings{purpose},
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("protect for purpose %q: %w", purpose, err)
	}
	return token, nil
}

func (p *keyedDataProtector) Unprotect(token string, purpose string) (string, error) {
	claims := &protectedClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.key, nil
	}, jwt.WithAudience(purpose))
	if err != nil || !parsed.Valid {
		return "", ErrTokenInvalid
	}
	return claims.Data, nil
}
