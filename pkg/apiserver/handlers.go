package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/acorn-io/acorn-registry/pkg/backend"
	"github.com/acorn-io/acorn-registry/pkg/billing"
	"github.com/acorn-io/acorn-registry/pkg/metrics"
	"github.com/acorn-io/acorn-registry/pkg/model"
	"github.com/acorn-io/acorn-registry/pkg/version"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type handler struct {
	backend  backend.Backend
	webhooks *billing.Verifier
}

func newHandler(b backend.Backend, webhooks *billing.Verifier) *handler {
	return &handler{
		backend:  b,
		webhooks: webhooks,
	}
}

// decode reads a JSON body into v and validates its struct tags.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return validate.Struct(v)
}

func invalidRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, model.ErrorResponse{
		Error:   model.ErrorInvalidRequest,
		Message: err.Error(),
	})
}

// handleError maps backend errors onto statuses. Anything unknown is a 500.
func handleError(w http.ResponseWriter, err error) {
	var unavailable *backend.UnavailableError
	var exceeded *backend.QuotaExceededError

	switch {
	case errors.As(err, &unavailable):
		writeError(w, http.StatusConflict, model.ErrorResponse{
			Error:  model.ErrorUnavailable,
			Reason: unavailable.Availability.Reason,
		})
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusPaymentRequired, model.QuotaExceededResponse{
			Error:   model.ErrorQuotaExceeded,
			Current: exceeded.Current,
			Quota:   exceeded.Quota,
		})
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, http.StatusNotFound, model.ErrorResponse{Error: model.ErrorNotFound})
	case errors.Is(err, backend.ErrForbidden):
		writeError(w, http.StatusForbidden, model.ErrorResponse{Error: model.ErrorForbidden})
	case errors.Is(err, backend.ErrFrozen):
		writeError(w, http.StatusLocked, model.ErrorResponse{Error: model.ErrorFrozen})
	case errors.Is(err, backend.ErrInvalidInvite):
		writeError(w, http.StatusBadRequest, model.ErrorResponse{Error: model.ErrorInvalidInvite})
	case errors.Is(err, billing.ErrInvalidPayload):
		invalidRequest(w, err)
	default:
		writeError(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   model.ErrorInternal,
			Message: err.Error(),
		})
	}
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, version.Get())
}

func (h *handler) registryJSON(w http.ResponseWriter, r *http.Request) {
	reg, err := h.backend.LegacyRegistry(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, reg)
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	avail, err := h.backend.CheckAvailability(r.Context(), mux.Vars(r)["subdomain"])
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, avail)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var input model.ClaimRequest
	if err := decode(r, &input); err != nil {
		invalidRequest(w, err)
		return
	}

	res, err := h.backend.Claim(r.Context(), identityFromContext(r.Context()), input.Subdomain)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.ClaimResponse{
		Subdomain: res.Name,
		OwnerID:   res.Record.OwnerID,
		ClaimedAt: res.Record.ClaimedAt,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	summary, err := h.backend.GetUser(r.Context(), identityFromContext(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, summary)
}

func (h *handler) access(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	access, err := h.backend.Access(r.Context(), id.UserID, mux.Vars(r)["subdomain"])
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, access)
}

func (h *handler) release(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	name := mux.Vars(r)["subdomain"]

	if err := h.backend.Release(r.Context(), id.UserID, name); err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, model.ReleaseResponse{Subdomain: name, Released: true})
}

func (h *handler) inviteCollaborator(w http.ResponseWriter, r *http.Request) {
	var input model.CollaboratorRequest
	if err := decode(r, &input); err != nil {
		invalidRequest(w, err)
		return
	}

	id := identityFromContext(r.Context())
	name := mux.Vars(r)["subdomain"]
	c, err := h.backend.InviteCollaborator(r.Context(), id.UserID, name, input.Email, input.Right)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.InviteResponse{
		Subdomain:  name,
		Email:      c.Email,
		Right:      c.Right,
		Status:     c.Status,
		InviteCode: c.InviteCode,
	})
}

func (h *handler) redeemInvite(w http.ResponseWriter, r *http.Request) {
	var input model.RedeemRequest
	if err := decode(r, &input); err != nil {
		invalidRequest(w, err)
		return
	}

	id := identityFromContext(r.Context())
	access, err := h.backend.RedeemInvite(r.Context(), id.UserID, mux.Vars(r)["subdomain"], input.Email, input.InviteCode)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, access)
}

func (h *handler) removeCollaborator(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	email, err := url.PathUnescape(vars["email"])
	if err != nil {
		invalidRequest(w, err)
		return
	}

	id := identityFromContext(r.Context())
	if err := h.backend.RemoveCollaborator(r.Context(), id.UserID, vars["subdomain"], email); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	if h.webhooks == nil {
		writeError(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   model.ErrorInternal,
			Message: "webhook secret is not configured",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		invalidRequest(w, err)
		return
	}

	if err := h.webhooks.Verify(payload, r.Header); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		if errors.Is(err, billing.ErrMissingHeaders) {
			writeError(w, http.StatusBadRequest, model.ErrorResponse{Error: model.ErrorMissingHeaders})
			return
		}
		writeError(w, http.StatusUnauthorized, model.ErrorResponse{Error: model.ErrorInvalidSignature})
		return
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		invalidRequest(w, err)
		return
	}

	if !event.IsSubscription() {
		logrus.Debugf("ignoring webhook event %s", event.Type)
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		writeSuccess(w, model.WebhookResponse{Received: true, Type: event.Type})
		return
	}

	change, err := h.backend.ApplySubscriptionEvent(r.Context(), event)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "failed").Inc()
		handleError(w, err)
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	writeSuccess(w, model.WebhookResponse{
		Received: true,
		Type:     event.Type,
		UserID:   change.UserID,
		Quota:    &change.Quota,
		Released: change.Released,
	})
}

func (h *handler) migrate(w http.ResponseWriter, r *http.Request) {
	res, err := h.backend.Migrate(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) listSubdomains(w http.ResponseWriter, r *http.Request) {
	records, err := h.backend.ListSubdomains(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, records)
}

func (h *handler) freeze(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["subdomain"]
	rec, err := h.backend.Freeze(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, model.FreezeResponse{Subdomain: name, Record: rec})
}

func (h *handler) unfreeze(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["subdomain"]
	rec, err := h.backend.Unfreeze(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, model.FreezeResponse{Subdomain: name, Record: rec})
}
