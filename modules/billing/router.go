package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mintkit/hub/pkg/billing"
)

// Webhook payloads are small; anything larger is not a legitimate event.
const maxWebhookBody = 1 << 16

// AccountResolver extracts the authenticated account ID from a request.
// Session handling lives in the accounts module; this router only needs the
// resulting identity.
type AccountResolver func(r *http.Request) (uuid.UUID, error)

// RouterOptions configures the billing module router.
type RouterOptions struct {
	Service *billing.Service

	// Account resolves the caller's account on the user-facing routes.
	Account AccountResolver

	// DefaultBillingAccount is the label used when a checkout or portal
	// request does not name one. Defaults to the service's primary account.
	DefaultBillingAccount string

	Logger *slog.Logger
}

// Router mounts the billing endpoints:
//
//	POST /webhooks/{account}   provider webhook ingress, one path per account
//	POST /trial                start the local free trial
//	POST /checkout/{plan}      begin hosted checkout (?cycle=monthly|annual)
//	GET  /checkout/success     checkout-success callback (?session_id=...)
//	GET  /portal               self-service portal redirect URL
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil {
		panic("billing: Service is required")
	}
	if opts.Account == nil {
		panic("billing: AccountResolver is required")
	}

	h := &handler{
		svc:     opts.Service,
		account: opts.Account,
		label:   opts.DefaultBillingAccount,
		log:     opts.Logger,
	}
	if h.label == "" {
		h.label = opts.Service.PrimaryAccount().Label
	}
	if h.log == nil {
		h.log = slog.Default()
	}

	r := chi.NewRouter()
	r.Post("/webhooks/{account}", h.webhook)
	r.Post("/trial", h.startTrial)
	r.Post("/checkout/{plan}", h.startCheckout)
	r.Get("/checkout/success", h.checkoutSuccess)
	r.Get("/portal", h.portal)
	return r
}

type handler struct {
	svc     *billing.Service
	account AccountResolver
	label   string
	log     *slog.Logger
}

// webhook is the provider-facing ingress. Signature or envelope failures
// are client errors so the provider retries once configuration is fixed;
// everything after successful verification is acknowledged with 200, even
// when processing failed, to avoid retry storms on a systematic bug.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "account")
	if _, ok := h.svc.Account(label); !ok {
		http.NotFound(w, r)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err = h.svc.HandleWebhook(r.Context(), label, payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook rejected",
			slog.String("billing_account", label),
			slog.Any("error", err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) startTrial(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.account(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sub, err := h.svc.StartTrial(r.Context(), accountID)
	switch {
	case errors.Is(err, billing.ErrTrialAlreadyUsed):
		writeError(w, http.StatusConflict, "your free trial has already been used")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "failed to start trial", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not start trial")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":        sub.Status,
		"plan":          sub.PlanCode,
		"trial_ends_at": sub.CurrentPeriodEnd,
	})
}

func (h *handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.account(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	planCode := chi.URLParam(r, "plan")
	cycle := billing.Cycle(r.URL.Query().Get("cycle"))
	if cycle == "" {
		cycle = billing.CycleMonthly
	}
	label := r.URL.Query().Get("account")
	if label == "" {
		label = h.label
	}

	redirect, err := h.svc.StartCheckout(r.Context(), label, accountID, planCode, cycle, billing.CheckoutOptions{
		Email:      r.URL.Query().Get("email"),
		SuccessURL: r.URL.Query().Get("success_url"),
		CancelURL:  r.URL.Query().Get("cancel_url"),
	})
	switch {
	case errors.Is(err, billing.ErrPlanNotFound), errors.Is(err, billing.ErrUnknownBillingAccount):
		writeError(w, http.StatusNotFound, "unknown plan")
		return
	case errors.Is(err, billing.ErrPriceNotConfigured):
		// Configuration errors surface to the caller instead of being
		// silently defaulted.
		writeError(w, http.StatusInternalServerError, "plan is not configured for this billing cycle")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "failed to start checkout",
			slog.String("plan", planCode), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "could not start checkout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":    redirect.URL,
		"portal": redirect.Portal,
	})
}

// checkoutSuccess is UX acceleration only: the webhook remains the source
// of truth, so a failure here is logged and the caller still gets a
// friendly response.
func (h *handler) checkoutSuccess(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.account(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID != "" {
		if err := h.svc.CompleteCheckout(r.Context(), h.label, accountID, sessionID); err != nil {
			h.log.ErrorContext(r.Context(), "checkout-success sync failed",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Payment complete. Your subscription will appear on your dashboard shortly.",
	})
}

func (h *handler) portal(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.account(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	label := r.URL.Query().Get("account")
	if label == "" {
		label = h.label
	}

	url, err := h.svc.StartPortal(r.Context(), label, accountID, r.URL.Query().Get("return_url"))
	switch {
	case errors.Is(err, billing.ErrNoBillingIdentity):
		writeError(w, http.StatusConflict, "no billing identity exists for this account yet")
		return
	case errors.Is(err, billing.ErrUnknownBillingAccount):
		http.NotFound(w, r)
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "failed to start portal session", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "could not open billing portal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
