// Package util builds the HTTP client shared by the generation providers.
package util

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// Proxy routes provider traffic. Each empty field falls back to its
// environment variable (HTTP_PROXY, HTTPS_PROXY, NO_PROXY) independently.
type Proxy struct {
	HTTP    string
	HTTPS   string
	NoProxy string
}

// Func returns the transport's proxy selector. NoProxy uses the NO_PROXY
// syntax of comma-separated hosts, domains and CIDRs.
func (p Proxy) Func() func(*http.Request) (*url.URL, error) {
	env := httpproxy.FromEnvironment()
	cfg := &httpproxy.Config{
		HTTPProxy:  firstNonEmpty(p.HTTP, env.HTTPProxy),
		HTTPSProxy: firstNonEmpty(p.HTTPS, env.HTTPSProxy),
		NoProxy:    firstNonEmpty(p.NoProxy, env.NoProxy),
	}
	selector := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return selector(req.URL)
	}
}

// NewHTTPClient returns a client for provider calls. It sets no timeout;
// callers bound each call with a context deadline.
func NewHTTPClient(p Proxy) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = p.Func()
	return &http.Client{Transport: transport}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
