package directory

import (
	"fmt"
	"net/http"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"golang.org/x/oauth2"
)

// userAgentTransport stamps every request with the application User-Agent
// and, when set, HTTP Basic credentials.
type userAgentTransport struct {
	base     http.RoundTripper
	user     string
	password string
	basic    bool
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set(config.HeaderUserAgent, config.UserAgent)
	if t.basic && (t.user != "" || t.password != "") {
		r.SetBasicAuth(t.user, t.password)
	}
	return t.base.RoundTrip(r)
}

// NewHTTPClient returns an HTTP client authenticating with the configured
// method: basic (username/password), bearer (static OAuth2 token) or none.
func NewHTTPClient(s *config.Settings) (*http.Client, error) {
	ua := &userAgentTransport{base: http.DefaultTransport}

	var transport http.RoundTripper
	switch s.AuthMethod {
	case config.AuthBasic, "":
		ua.basic = true
		ua.user, ua.password = s.Username, s.Password
		transport = ua
	case config.AuthBearer:
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.Token})
		transport = &oauth2.Transport{Source: src, Base: ua}
	case config.AuthNone:
		transport = ua
	default:
		return nil, fmt.Errorf("%s: %q", config.ErrAuthUnsupported, s.AuthMethod)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.HTTPTimeout,
	}, nil
}
