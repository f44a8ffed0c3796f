package apiserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/acorn-io/acorn-registry/pkg/model"
	"github.com/acorn-io/acorn-registry/pkg/token"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAIUpstreamURL = "https://api.anthropic.com/v1/messages"

	serviceKeyHeader = "X-Api-Key"
)

// AIProxy forwards chat completions to the upstream API with the server-held
// key. Status and body are passed through unchanged.
type AIProxy struct {
	apiKey   string
	keyHash  []byte
	upstream *url.URL
	proxy    *httputil.ReverseProxy
}

// NewAIProxy returns a proxy even when apiKey is empty; such a proxy answers
// every request with ai_proxy_not_configured. serviceKeyHash is an optional
// bcrypt hash of a key service callers may send instead of a user token.
func NewAIProxy(apiKey, upstreamURL, serviceKeyHash string) (*AIProxy, error) {
	if upstreamURL == "" {
		upstreamURL = DefaultAIUpstreamURL
	}
	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid AI upstream URL %q: %w", upstreamURL, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid AI upstream URL %q: scheme and host are required", upstreamURL)
	}

	p := &AIProxy{
		apiKey:   apiKey,
		upstream: upstream,
	}
	if serviceKeyHash != "" {
		p.keyHash = []byte(serviceKeyHash)
	}

	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = &url.URL{
				Scheme:   upstream.Scheme,
				Host:     upstream.Host,
				Path:     upstream.Path,
				RawQuery: upstream.RawQuery,
			}
			pr.Out.Host = upstream.Host
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Set(serviceKeyHeader, p.apiKey)
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logrus.Errorf("AI upstream request failed: %v", err)
			writeError(w, http.StatusBadGateway, model.ErrorResponse{Error: model.ErrorAIProxyUpstreamFailed})
		},
	}
	return p, nil
}

func (p *AIProxy) configured() bool {
	return p != nil && p.apiKey != ""
}

// checkServiceKey reports whether the request carries the service key.
func (p *AIProxy) checkServiceKey(r *http.Request) bool {
	key := r.Header.Get(serviceKeyHeader)
	if len(p.keyHash) == 0 || key == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword(p.keyHash, []byte(key))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		logrus.Errorf("unable to compare AI service key: %v", err)
	}
	return err == nil
}

// withAuth admits callers holding the service key or a valid user token.
func (p *AIProxy) withAuth(tokens *token.Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.configured() {
			writeError(w, http.StatusInternalServerError, model.ErrorResponse{Error: model.ErrorAIProxyNotConfigured})
			return
		}
		if !p.checkServiceKey(r) {
			if _, ok := authenticate(w, r, tokens); !ok {
				return
			}
		}
		p.proxy.ServeHTTP(w, r)
	})
}
