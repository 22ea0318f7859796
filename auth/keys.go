package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// GoogleJWKSURL serves the JWK Set that signs Firebase ID tokens.
const GoogleJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

const (
	// jwksRefreshInterval is how often the key set is refetched in the
	// background.
	jwksRefreshInterval = time.Hour

	// unknownKIDInterval limits refetches triggered by unknown key ids.
	unknownKIDInterval = 5 * time.Minute

	// unknownKIDWaitMax bounds how long a request waits on that limit.
	unknownKIDWaitMax = time.Second

	jwksHTTPTimeout = 10 * time.Second
)

// ErrUnknownKey is returned when no current key matches a token's kid.
var ErrUnknownKey = errors.New("unknown signing key")

// KeySource resolves a key id to an RSA public key.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// StaticKeySource serves a fixed set of keys.
type StaticKeySource map[string]*rsa.PublicKey

func (s StaticKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return key, nil
}

// JWKSKeySource serves keys from a remote JWK Set. The set is refreshed
// in the background until the context given to NewJWKSKeySource ends; a
// failed refresh keeps the previous keys. An unknown kid triggers a rate
// limited refetch so rotated keys are picked up early.
type JWKSKeySource struct {
	jwks keyfunc.Keyfunc
}

// NewJWKSKeySource starts watching url (GoogleJWKSURL when empty). A nil
// client gets a default one. The provider being unreachable at startup is
// logged, not returned, so the server can come up and recover later.
func NewJWKSKeySource(ctx context.Context, url string, client *http.Client, logger *slog.Logger) (*JWKSKeySource, error) {
	if url == "" {
		url = GoogleJWKSURL
	}
	if client == nil {
		client = &http.Client{Timeout: jwksHTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	remote, err := jwkset.NewStorageFromHTTP(url, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		Ctx:                       ctx,
		HTTPTimeout:               jwksHTTPTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			logger.Warn("refreshing signing keys failed, keeping previous keys", "url", url, "err", err)
		},
		RefreshInterval: jwksRefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("watching signing keys: %w", err)
	}

	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{url: remote},
		RateLimitWaitMax:  unknownKIDWaitMax,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(unknownKIDInterval), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("building signing key client: %w", err)
	}

	jwks, err := keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      storage,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		return nil, fmt.Errorf("building key function: %w", err)
	}
	return &JWKSKeySource{jwks: jwks}, nil
}

// Key returns the RS256 verification key named kid.
func (s *JWKSKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	header := &jwt.Token{Header: map[string]interface{}{
		"kid": kid,
		"alg": jwt.SigningMethodRS256.Alg(),
	}}
	key, err := s.jwks.KeyfuncCtx(ctx)(header)
	if errors.Is(err, jwkset.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up key %q: %w", kid, err)
	}
	public, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %q: not an RSA public key", kid)
	}
	return public, nil
}
