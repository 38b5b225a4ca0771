package etrade

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-assistant/internal/types"
)

// fakeOAuthServer serves the two token-exchange legs. failAccess makes the
// access_token leg reject the verifier.
func fakeOAuthServer(t *testing.T, failAccess bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/request_token", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "OAuth "))
		assert.Contains(t, auth, `oauth_callback="oob"`)
		assert.Contains(t, auth, `oauth_signature_method="HMAC-SHA1"`)
		fmt.Fprint(w, "oauth_token=req-token&oauth_token_secret=req-secret")
	})
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if failAccess {
			http.Error(w, "oauth_problem=verifier_invalid", http.StatusUnauthorized)
			return
		}
		auth := r.Header.Get("Authorization")
		assert.Contains(t, auth, `oauth_token="req-token"`)
		assert.Contains(t, auth, "oauth_verifier=")
		fmt.Fprint(w, "oauth_token=access-token&oauth_token_secret=access-secret")
	})
	return httptest.NewServer(mux)
}

func testSession(srv *httptest.Server) *Session {
	return NewSession("ckey", "csecret",
		Endpoints{APIBase: srv.URL, AuthorizeURL: "https://us.etrade.com/e/t/etws/authorize"},
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
		WithNonce(func() string { return "fixed-nonce" }),
	)
}

func TestHappyPathHandshake(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)
	ctx := context.Background()

	assert.False(t, s.IsAuthenticated())

	authURL, err := s.Initiate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://us.etrade.com/e/t/etws/authorize?key=ckey&token=req-token", authURL)
	assert.False(t, s.IsAuthenticated())

	require.NoError(t, s.Complete(ctx, "verif-123"))
	assert.True(t, s.IsAuthenticated())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts/list.json", nil)
	require.NoError(t, s.Sign(req))
	auth := req.Header.Get("Authorization")
	assert.Contains(t, auth, `oauth_token="access-token"`)
	assert.Contains(t, auth, "oauth_signature=")
}

func TestSignBeforeAuthentication(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/x", nil)
	assert.ErrorIs(t, s.Sign(req), types.ErrNotAuthenticated)
}

func TestInitiateTwiceRejected(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)
	ctx := context.Background()

	_, err := s.Initiate(ctx)
	require.NoError(t, err)

	_, err = s.Initiate(ctx)
	var authErr *types.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "request_token", authErr.Stage)
}

func TestCompleteWithoutInitiate(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)

	err := s.Complete(context.Background(), "verif")
	var authErr *types.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "access_token", authErr.Stage)
}

func TestCompleteFailureResetsSession(t *testing.T) {
	srv := fakeOAuthServer(t, true)
	defer srv.Close()
	s := testSession(srv)
	ctx := context.Background()

	_, err := s.Initiate(ctx)
	require.NoError(t, err)

	err = s.Complete(ctx, "bad-verifier")
	var authErr *types.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "access_token", authErr.Stage)
	assert.False(t, s.IsAuthenticated())

	// The spent temporary token is gone; the user restarts from Initiate.
	err = s.Complete(ctx, "bad-verifier")
	require.ErrorAs(t, err, &authErr)
}

func TestEmptyVerificationCodeResets(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)
	ctx := context.Background()

	_, err := s.Initiate(ctx)
	require.NoError(t, err)

	var authErr *types.AuthError
	require.ErrorAs(t, s.Complete(ctx, "   "), &authErr)
	assert.False(t, s.IsAuthenticated())
}

func TestDisconnectDropsTokens(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)
	ctx := context.Background()

	_, err := s.Initiate(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "verif"))
	require.True(t, s.IsAuthenticated())

	s.Disconnect()
	assert.False(t, s.IsAuthenticated())
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/x", nil)
	assert.ErrorIs(t, s.Sign(req), types.ErrNotAuthenticated)
}

func TestSignatureDeterministic(t *testing.T) {
	srv := fakeOAuthServer(t, false)
	defer srv.Close()
	s := testSession(srv)
	ctx := context.Background()
	_, err := s.Initiate(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "verif"))

	sign := func() string {
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/v1/quote.json?symbol=AAPL", nil)
		require.NoError(t, s.Sign(req))
		return req.Header.Get("Authorization")
	}
	// Fixed clock and nonce make the full header reproducible.
	assert.Equal(t, sign(), sign())
}

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, "abc-XYZ_0.9~", percentEncode("abc-XYZ_0.9~"))
	assert.Equal(t, "a%20b%2Fc%3D", percentEncode("a b/c="))
	assert.Equal(t, "%2B", percentEncode("+"))
}
