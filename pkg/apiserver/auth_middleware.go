package apiserver

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/acorn-io/acorn-registry/pkg/metrics"
	"github.com/acorn-io/acorn-registry/pkg/model"
	"github.com/acorn-io/acorn-registry/pkg/token"
	"github.com/sirupsen/logrus"
)

type ContextKey string

const IdentityKey ContextKey = "identity"

func tokenAuthMiddleware(v *token.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logrus.Debugf("request URL path: %s", r.URL.Path)

			id, ok := authenticate(w, r, v)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate verifies the bearer token and writes the 401 itself on failure.
func authenticate(w http.ResponseWriter, r *http.Request, v *token.Verifier) (token.Identity, bool) {
	if v == nil {
		writeError(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   model.ErrorInternal,
			Message: "token verification is not configured",
		})
		return token.Identity{}, false
	}

	id, err := v.Verify(r.Header.Get("Authorization"))
	if err != nil {
		reason := token.ReasonParseFailed
		var f *token.Failure
		if errors.As(err, &f) {
			reason = f.Reason
		}
		metrics.AuthFailuresTotal.WithLabelValues(reasonLabel(reason)).Inc()
		writeError(w, http.StatusUnauthorized, model.ErrorResponse{
			Error:      model.ErrorUnauthorized,
			FailReason: reason,
		})
		return token.Identity{}, false
	}
	return id, true
}

// reasonLabel drops caller-supplied detail so the label set stays bounded.
func reasonLabel(reason string) string {
	for _, prefix := range []string{token.ReasonBadAlgorithm, token.ReasonAzpMismatch} {
		if strings.HasPrefix(reason, prefix) {
			return prefix
		}
	}
	return reason
}

func adminMiddleware(adminUserIDs []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identityFromContext(r.Context())
			if !slices.Contains(adminUserIDs, id.UserID) {
				writeError(w, http.StatusForbidden, model.ErrorResponse{Error: model.ErrorForbidden})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFromContext(ctx context.Context) token.Identity {
	id, _ := ctx.Value(IdentityKey).(token.Identity)
	return id
}
