package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/store"
)

const projectID = "tasktracker-test"

var epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

var (
	keyOnce           sync.Once
	signingKey, other *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if signingKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if other, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return signingKey, other
}

func firebaseClaims(now time.Time, subject string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       "https://securetoken.google.com/" + projectID,
		"aud":       projectID,
		"sub":       subject,
		"email":     subject + "@example.com",
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"auth_time": now.Unix(),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestFirebaseVerifier(t *testing.T) {
	key, wrongKey := testKeys(t)
	clock := abtime.NewManualAtTime(epoch)
	verifier := NewFirebaseVerifier(projectID, StaticKeySource{"k1": &key.PublicKey}, clock)
	now := clock.Now()

	good := signRS256(t, key, "k1", firebaseClaims(now, "alice"))
	claims, err := verifier.Verify(context.Background(), good)
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if claims.SubjectID != "alice" || claims.Email != "alice@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	mutate := func(f func(jwt.MapClaims)) jwt.MapClaims {
		c := firebaseClaims(now, "alice")
		f(c)
		return c
	}
	hs256, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, firebaseClaims(now, "alice")).SignedString([]byte("0123456789abcdef"))

	rejected := map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"wrong key":      signRS256(t, wrongKey, "k1", firebaseClaims(now, "alice")),
		"unknown kid":    signRS256(t, key, "k2", firebaseClaims(now, "alice")),
		"missing kid":    signRS256(t, key, "", firebaseClaims(now, "alice")),
		"hs256":          hs256,
		"wrong audience": signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["aud"] = "someone-else" })),
		"wrong issuer":   signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["iss"] = "https://evil.example" })),
		"expired":        signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Hour).Unix() })),
		"no expiry":      signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { delete(c, "exp") })),
		"issued later":   signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["iat"] = now.Add(time.Hour).Unix() })),
		"auth later":     signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["auth_time"] = now.Add(time.Hour).Unix() })),
		"empty subject":  signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["sub"] = "" })),
		"long subject":   signRS256(t, key, "k1", mutate(func(c jwt.MapClaims) { c["sub"] = strings.Repeat("x", 129) })),
	}
	for name, token := range rejected {
		if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: err = %v, want ErrUnauthenticated", name, err)
		}
	}
}

func TestFirebaseVerifierLeeway(t *testing.T) {
	key, _ := testKeys(t)
	clock := abtime.NewManualAtTime(epoch)
	verifier := NewFirebaseVerifier(projectID, StaticKeySource{"k1": &key.PublicKey}, clock)

	token := signRS256(t, key, "k1", firebaseClaims(clock.Now(), "alice"))

	clock.Advance(time.Hour + 4*time.Minute)
	if _, err := verifier.Verify(context.Background(), token); err != nil {
		t.Errorf("token within clock skew rejected: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("token past clock skew: err = %v", err)
	}
}

// publicJWK renders key as an RSA signing JWK.
func publicJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// jwksServer serves the keys in *keys and counts requests.
func jwksServer(t *testing.T, mu *sync.Mutex, keys *[]map[string]string, failing *atomic.Bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"keys": *keys})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestJWKSKeySource(t *testing.T) {
	key, rotated := testKeys(t)

	var (
		mu      sync.Mutex
		keys    = []map[string]string{publicJWK("k1", &key.PublicKey)}
		failing atomic.Bool
		hits    atomic.Int32
	)
	server := jwksServer(t, &mu, &keys, &failing, &hits)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source, err := NewJWKSKeySource(ctx, server.URL, server.Client(), nil)
	if err != nil {
		t.Fatalf("NewJWKSKeySource: %v", err)
	}

	got, err := source.Key(ctx, "k1")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if !got.Equal(&key.PublicKey) {
		t.Error("Key returned the wrong public key")
	}
	if _, err := source.Key(ctx, "k1"); err != nil || hits.Load() != 1 {
		t.Errorf("cached lookup: err=%v hits=%d", err, hits.Load())
	}

	// A token signed by the served key verifies end to end.
	verifier := NewFirebaseVerifier(projectID, source, abtime.NewManualAtTime(epoch))
	if _, err := verifier.Verify(ctx, signRS256(t, key, "k1", firebaseClaims(epoch, "alice"))); err != nil {
		t.Errorf("Verify with remote keys: %v", err)
	}

	// The first unknown kid refetches and picks up a rotated key.
	mu.Lock()
	keys = append(keys, publicJWK("k2", &rotated.PublicKey))
	mu.Unlock()
	got, err = source.Key(ctx, "k2")
	if err != nil {
		t.Fatalf("rotated key not picked up: %v", err)
	}
	if !got.Equal(&rotated.PublicKey) || hits.Load() != 2 {
		t.Errorf("rotated key: hits = %d, want 2", hits.Load())
	}

	// Further unknown kids within the refetch interval stay off the network.
	if _, err := source.Key(ctx, "k9"); err == nil {
		t.Error("unknown kid accepted")
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d after rate-limited miss, want 2", hits.Load())
	}

	// Keys already fetched keep working while the provider is down.
	failing.Store(true)
	if _, err := source.Key(ctx, "k1"); err != nil {
		t.Errorf("known key during outage: %v", err)
	}
}

func TestJWKSKeySourceStartsDuringOutage(t *testing.T) {
	var (
		mu      sync.Mutex
		keys    []map[string]string
		failing atomic.Bool
		hits    atomic.Int32
	)
	failing.Store(true)
	server := jwksServer(t, &mu, &keys, &failing, &hits)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source, err := NewJWKSKeySource(ctx, server.URL, server.Client(), nil)
	if err != nil {
		t.Fatalf("unreachable provider failed startup: %v", err)
	}
	if _, err := source.Key(ctx, "k1"); err == nil {
		t.Error("Key succeeded against a failing endpoint")
	}
}

func TestStaticKeySource(t *testing.T) {
	key, _ := testKeys(t)
	source := StaticKeySource{"k1": &key.PublicKey}
	if got, err := source.Key(context.Background(), "k1"); err != nil || !got.Equal(&key.PublicKey) {
		t.Errorf("Key(k1) = %v, %v", got, err)
	}
	if _, err := source.Key(context.Background(), "k2"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Key(k2): err = %v", err)
	}
}

func TestHMACRoundTrip(t *testing.T) {
	secret := []byte("local-dev-secret-0123")
	clock := abtime.NewManualAtTime(epoch)
	verifier := NewHMACVerifier(secret, "tasktracker-dev", "", clock)

	token, err := MintHMAC(secret, "tasktracker-dev", "", "bob", "bob@example.com", clock.Now(), time.Hour)
	if err != nil {
		t.Fatalf("MintHMAC: %v", err)
	}
	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID != "bob" || claims.Email != "bob@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	wrongSecret, _ := MintHMAC([]byte("another-secret-456789"), "tasktracker-dev", "", "bob", "", clock.Now(), time.Hour)
	wrongIssuer, _ := MintHMAC(secret, "elsewhere", "", "bob", "", clock.Now(), time.Hour)
	for name, token := range map[string]string{"wrong secret": wrongSecret, "wrong issuer": wrongIssuer} {
		if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: err = %v", name, err)
		}
	}

	clock.Advance(2 * time.Hour)
	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expired token: err = %v", err)
	}
}

type failingDirectory struct {
	store.UserDirectory
}

func (failingDirectory) FindOrCreateUser(ctx context.Context, subjectID, email string) (*models.User, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestResolve(t *testing.T) {
	secret := []byte("local-dev-secret-0123")
	clock := abtime.NewManualAtTime(epoch)
	directory := store.NewMemory(clock)
	builder := &ContextBuilder{
		Verifier:  NewHMACVerifier(secret, "", "", clock),
		Directory: directory,
	}
	ctx := context.Background()

	// A role claim inside the token must not grant anything.
	claims := jwt.MapClaims{
		"sub":  "carol",
		"role": "admin",
		"iat":  clock.Now().Unix(),
		"exp":  clock.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	for i := 0; i < 2; i++ {
		identity, err := builder.Resolve(ctx, token)
		if err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
		if identity != (models.Identity{SubjectID: "carol", Role: models.RoleUser}) {
			t.Errorf("Resolve #%d = %+v", i, identity)
		}
	}
	users, err := directory.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("ListUsers = %v, %v; want one user", users, err)
	}

	if _, err := directory.SetAdmin(ctx, "carol", true); err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}
	identity, err := builder.Resolve(ctx, token)
	if err != nil || !identity.IsAdmin() {
		t.Errorf("after SetAdmin: %+v, %v", identity, err)
	}

	if _, err := builder.Resolve(ctx, "bogus"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("bogus token: err = %v", err)
	}

	builder.Directory = failingDirectory{}
	if _, err := builder.Resolve(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("directory failure: err = %v, want ErrUnauthenticated", err)
	}
}
