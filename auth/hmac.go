package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thejerf/abtime"
)

// HMACVerifier verifies HS256 tokens signed with a shared secret. It is
// meant for local development, where no identity provider is reachable,
// and applies the same subject and expiry rules as FirebaseVerifier.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
	clock    abtime.AbstractTime
}

// NewHMACVerifier checks issuer and audience only when they are non-empty.
func NewHMACVerifier(secret []byte, issuer, audience string, clock abtime.AbstractTime) *HMACVerifier {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &HMACVerifier{secret: secret, issuer: issuer, audience: audience, clock: clock}
}

func (v *HMACVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, unauthenticated("empty token")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, options...)
	if err != nil {
		return nil, unauthenticated("%v", err)
	}
	return claimsFromMap(claims)
}

// DevClaims describes a development token.
type DevClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// MintHMAC signs a token that HMACVerifier with the same settings accepts.
func MintHMAC(secret []byte, issuer, audience, subject, email string, now time.Time, ttl time.Duration) (string, error) {
	claims := &DevClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
