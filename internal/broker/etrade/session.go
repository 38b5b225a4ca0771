// Package etrade implements the OAuth1 session and signed REST client for the
// E*TRADE brokerage API.
package etrade

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

var _ interfaces.Session = (*Session)(nil)

// Endpoints are the broker's URL roots. Sandbox and production differ only in
// the API host; the authorize page is always on the retail site.
type Endpoints struct {
	APIBase      string
	AuthorizeURL string
}

// SandboxEndpoints returns the sandbox environment.
func SandboxEndpoints() Endpoints {
	return Endpoints{
		APIBase:      "https://apisb.etrade.com",
		AuthorizeURL: "https://us.etrade.com/e/t/etws/authorize",
	}
}

// ProductionEndpoints returns the live environment.
func ProductionEndpoints() Endpoints {
	return Endpoints{
		APIBase:      "https://api.etrade.com",
		AuthorizeURL: "https://us.etrade.com/e/t/etws/authorize",
	}
}

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateRequestTokenIssued
	stateAuthenticated
)

func (s sessionState) String() string {
	switch s {
	case stateRequestTokenIssued:
		return "REQUEST_TOKEN_ISSUED"
	case stateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNAUTHENTICATED"
	}
}

// Session is the three-legged OAuth1 state machine. The consumer and token
// secrets never leave this type; collaborators get only the Sign capability.
type Session struct {
	consumerKey    string
	consumerSecret string
	endpoints      Endpoints
	httpClient     *http.Client

	// Injectable for deterministic signing in tests.
	now   func() time.Time
	nonce func() string

	mu          sync.Mutex
	state       sessionState
	token       string
	tokenSecret string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient overrides the HTTP client used for the token exchanges.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) { s.httpClient = c }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithNonce overrides the nonce source.
func WithNonce(nonce func() string) SessionOption {
	return func(s *Session) { s.nonce = nonce }
}

// NewSession creates an unauthenticated session.
func NewSession(consumerKey, consumerSecret string, endpoints Endpoints, opts ...SessionOption) *Session {
	s := &Session{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		endpoints:      endpoints,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
		nonce:          randomNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a time-derived nonce; uniqueness still holds in practice.
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return fmt.Sprintf("%x", b)
}

// Initiate requests a temporary token and returns the authorization URL for
// the user. Only valid from the unauthenticated state.
func (s *Session) Initiate(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != stateUnauthenticated {
		state := s.state
		s.mu.Unlock()
		return "", &types.AuthError{Stage: "request_token", Reason: fmt.Sprintf("initiate not valid in state %s", state)}
	}
	s.mu.Unlock()

	params := map[string]string{"oauth_callback": "oob"}
	token, secret, err := s.tokenExchange(ctx, "/oauth/request_token", "", "", params)
	if err != nil {
		return "", &types.AuthError{Stage: "request_token", Reason: "token request rejected", Err: err}
	}

	s.mu.Lock()
	s.state = stateRequestTokenIssued
	s.token = token
	s.tokenSecret = secret
	s.mu.Unlock()

	authorizeURL := fmt.Sprintf("%s?key=%s&token=%s",
		s.endpoints.AuthorizeURL, url.QueryEscape(s.consumerKey), url.QueryEscape(token))
	logger.Info(ctx, "OAuth flow initiated", "state", stateRequestTokenIssued.String())
	return authorizeURL, nil
}

// Complete exchanges the authorized temporary token plus the verification
// code for an access token. Any failure discards the temporary token and
// returns the session to the unauthenticated state, so the user restarts from
// Initiate rather than retrying a spent code.
func (s *Session) Complete(ctx context.Context, verificationCode string) error {
	s.mu.Lock()
	if s.state != stateRequestTokenIssued {
		state := s.state
		s.mu.Unlock()
		return &types.AuthError{Stage: "access_token", Reason: fmt.Sprintf("complete not valid in state %s", state)}
	}
	reqToken, reqSecret := s.token, s.tokenSecret
	s.mu.Unlock()

	verificationCode = strings.TrimSpace(verificationCode)
	if verificationCode == "" {
		s.reset()
		return &types.AuthError{Stage: "access_token", Reason: "empty verification code"}
	}

	params := map[string]string{"oauth_verifier": verificationCode}
	token, secret, err := s.tokenExchange(ctx, "/oauth/access_token", reqToken, reqSecret, params)
	if err != nil {
		s.reset()
		return &types.AuthError{Stage: "access_token", Reason: "verification rejected", Err: err}
	}

	s.mu.Lock()
	s.state = stateAuthenticated
	s.token = token
	s.tokenSecret = secret
	s.mu.Unlock()
	logger.Info(ctx, "OAuth flow complete", "state", stateAuthenticated.String())
	return nil
}

// Sign adds the OAuth1 Authorization header to req using the access token.
func (s *Session) Sign(req *http.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAuthenticated {
		return types.ErrNotAuthenticated
	}
	header := s.authorizationHeader(req.Method, req.URL, s.token, s.tokenSecret, nil)
	req.Header.Set("Authorization", header)
	return nil
}

// IsAuthenticated reports whether the session holds an access token.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateAuthenticated
}

// Disconnect drops all tokens and returns to the unauthenticated state.
func (s *Session) Disconnect() {
	s.reset()
}

func (s *Session) reset() {
	s.mu.Lock()
	s.state = stateUnauthenticated
	s.token = ""
	s.tokenSecret = ""
	s.mu.Unlock()
}

// tokenExchange performs one leg of the handshake and parses the
// form-encoded token response.
func (s *Session) tokenExchange(ctx context.Context, path, token, tokenSecret string, extra map[string]string) (string, string, error) {
	u, err := url.Parse(s.endpoints.APIBase + path)
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", s.authorizationHeader(http.MethodGet, u, token, tokenSecret, extra))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return "", "", fmt.Errorf("malformed token response: %w", err)
	}
	tok, sec := vals.Get("oauth_token"), vals.Get("oauth_token_secret")
	if tok == "" || sec == "" {
		return "", "", fmt.Errorf("token response missing oauth_token fields")
	}
	return tok, sec, nil
}

// authorizationHeader builds the OAuth1 HMAC-SHA1 Authorization header for a
// request per RFC 5849.
func (s *Session) authorizationHeader(method string, u *url.URL, token, tokenSecret string, extra map[string]string) string {
	oauth := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if token != "" {
		oauth["oauth_token"] = token
	}
	for k, v := range extra {
		oauth[k] = v
	}

	oauth["oauth_signature"] = signature(method, u, oauth, s.consumerSecret, tokenSecret)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", percentEncode(k), percentEncode(oauth[k])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// signature computes the HMAC-SHA1 signature over the normalized request.
func signature(method string, u *url.URL, oauth map[string]string, consumerSecret, tokenSecret string) string {
	params := make([][2]string, 0, len(oauth)+8)
	for k, v := range oauth {
		params = append(params, [2]string{percentEncode(k), percentEncode(v)})
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			params = append(params, [2]string{percentEncode(k), percentEncode(v)})
		}
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i][0] != params[j][0] {
			return params[i][0] < params[j][0]
		}
		return params[i][1] < params[j][1]
	})
	pairs := make([]string, len(params))
	for i, p := range params {
		pairs[i] = p[0] + "=" + p[1]
	}

	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(pairs, "&"))
	key := percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies the RFC 3986 unreserved-character encoding OAuth1
// requires, which is stricter than url.QueryEscape.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
