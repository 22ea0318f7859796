// Package auth turns a bearer token into a request Identity.
//
// Resolution has two steps. A Verifier checks the token's signature and
// standard claims and yields the subject. The ContextBuilder then looks
// the subject up in the user directory, creating a non-admin record the
// first time it is seen, and derives the role from the directory's admin
// flag. Role claims carried inside the token are never consulted.
//
// Every failure on this path, including directory errors, is reported as
// ErrUnauthenticated so a broken dependency cannot grant access.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated wraps every verification and resolution failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// maxSubjectLength is the longest subject id the identity provider issues.
const maxSubjectLength = 128

// Claims are the verified contents of an identity token.
type Claims struct {
	SubjectID string
	Email     string

	// Raw holds every claim from the token, including provider
	// specific ones such as firebase.sign_in_provider.
	Raw map[string]any
}

// Verifier validates an identity token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, fmt.Sprintf(format, args...))
}

// claimsFromMap extracts the subject and email from parsed claims and
// enforces the subject rules shared by every verifier.
func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	subject, err := m.GetSubject()
	if err != nil {
		return nil, unauthenticated("reading subject: %v", err)
	}
	if subject == "" {
		return nil, unauthenticated("token has no subject")
	}
	if len(subject) > maxSubjectLength {
		return nil, unauthenticated("subject longer than %d characters", maxSubjectLength)
	}

	email, _ := m["email"].(string)
	return &Claims{
		SubjectID: subject,
		Email:     email,
		Raw:       map[string]any(m),
	}, nil
}
