package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gigmarket/chat-service/internal/security"
)

// Authenticator resolves the user behind a websocket handshake.
type Authenticator struct {
	resolver    *security.TokenResolver
	directory   security.UserDirectory
	cookies     *security.CookieCodec
	trustUserID bool
}

// NewAuthenticator creates an Authenticator. directory is only consulted when
// trustUserID is set; cookies may be nil.
func NewAuthenticator(resolver *security.TokenResolver, directory security.UserDirectory, cookies *security.CookieCodec, trustUserID bool) *Authenticator {
	return &Authenticator{resolver: resolver, directory: directory, cookies: cookies, trustUserID: trustUserID}
}

type credential struct {
	source  string
	value   string
	resolve func(ctx context.Context, value string) (*security.Identity, error)
}

// Authenticate tries, in order, the handshake token, a trusted raw user id, the
// Authorization header and the session cookie. The first credential that resolves
// wins. When none do, the returned error is an *security.AuthenticationError.
func (a *Authenticator) Authenticate(r *http.Request) (*security.Identity, error) {
	query := r.URL.Query()
	candidates := []credential{
		{source: "token", value: strings.TrimSpace(query.Get("token")), resolve: a.resolveToken},
	}
	if a.trustUserID && a.directory != nil {
		candidates = append(candidates, credential{source: "userId", value: strings.TrimSpace(query.Get("userId")), resolve: a.directory.LookupUser})
	}
	candidates = append(candidates, credential{source: "header", value: security.BearerToken(r.Header.Get("Authorization")), resolve: a.resolveToken})
	if a.cookies != nil {
		candidates = append(candidates, credential{source: "cookie", value: a.cookies.TokenFromRequest(r), resolve: a.resolveToken})
	}

	var failures []error
	for _, cred := range candidates {
		if cred.value == "" {
			continue
		}
		id, err := cred.resolve(r.Context(), cred.value)
		if err == nil && id != nil && id.UserID != "" {
			return id, nil
		}
		if err != nil {
			failures = append(failures, errors.New(cred.source+": "+err.Error()))
		}
	}
	if len(failures) == 0 {
		return nil, &security.AuthenticationError{Reason: "no credential presented"}
	}
	return nil, &security.AuthenticationError{Reason: errors.Join(failures...).Error()}
}

func (a *Authenticator) resolveToken(ctx context.Context, token string) (*security.Identity, error) {
	if a.resolver == nil {
		return nil, errors.New("token authentication disabled")
	}
	return a.resolver.Resolve(ctx, token)
}
