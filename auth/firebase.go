package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thejerf/abtime"
)

// clockSkew is the tolerance applied to exp, iat and auth_time.
const clockSkew = 5 * time.Minute

// FirebaseVerifier verifies Firebase ID tokens: RS256 JWTs whose kid
// names one of the provider's current signing keys.
type FirebaseVerifier struct {
	projectID string
	issuer    string
	keys      KeySource
	clock     abtime.AbstractTime
}

// NewFirebaseVerifier verifies tokens minted for projectID. A nil clock
// means real time.
func NewFirebaseVerifier(projectID string, keys KeySource, clock abtime.AbstractTime) *FirebaseVerifier {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &FirebaseVerifier{
		projectID: projectID,
		issuer:    "https://securetoken.google.com/" + projectID,
		keys:      keys,
		clock:     clock,
	}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, unauthenticated("empty token")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, unauthenticated("token has no kid header")
		}
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, unauthenticated("%v", err)
	}

	if authTime, ok := claims["auth_time"].(float64); ok {
		if time.Unix(int64(authTime), 0).After(v.clock.Now().Add(clockSkew)) {
			return nil, unauthenticated("auth_time is in the future")
		}
	}

	return claimsFromMap(claims)
}
