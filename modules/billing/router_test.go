package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	billingmod "github.com/mintkit/hub/modules/billing"
	"github.com/mintkit/hub/pkg/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Exists(ctx context.Context, accountID uuid.UUID) (bool, error) {
	args := m.Called(ctx, accountID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDirectory) Email(ctx context.Context, accountID uuid.UUID) (string, error) {
	args := m.Called(ctx, accountID)
	return args.String(0), args.Error(1)
}

type routerEnv struct {
	router   http.Handler
	provider *mockProvider
	dir      *mockDirectory
	account  uuid.UUID
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()

	catalog, err := billing.NewCatalog(
		billing.Plan{Code: billing.TrialPlanCode, Name: "Free Trial", Active: true},
		billing.Plan{
			Code: "supporter", Name: "Supporter", Tier: 1, Active: true,
			PriceIDs: map[billing.Cycle]string{billing.CycleMonthly: "price_supporter_m"},
		},
	)
	require.NoError(t, err)

	env := &routerEnv{
		provider: &mockProvider{},
		dir:      &mockDirectory{},
		account:  uuid.New(),
	}

	svc, err := billing.NewService(billing.NewMemoryStore(), env.dir, []*billing.BillingAccount{
		{Label: "primary", Provider: env.provider, Catalog: catalog},
	})
	require.NoError(t, err)

	env.router = billingmod.Router(billingmod.RouterOptions{
		Service: svc,
		Account: func(r *http.Request) (uuid.UUID, error) {
			if r.Header.Get("X-Account-ID") == "" {
				return uuid.Nil, errors.New("no session")
			}
			return env.account, nil
		},
	})
	return env
}

func (e *routerEnv) do(t *testing.T, method, target string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set("X-Account-ID", e.account.String())
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("unknown billing account is 404", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodPost, "/webhooks/nope", false)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("signature failure is 400", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)
		env.provider.On("ParseWebhook", mock.Anything, "bad-sig").
			Return(nil, billing.ErrInvalidSignature)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/primary", strings.NewReader(`{}`))
		req.Header.Set("Stripe-Signature", "bad-sig")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("processing failure is still acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)
		env.provider.On("ParseWebhook", mock.Anything, mock.Anything).Return(&billing.Event{
			Kind:         billing.EventCheckoutCompleted,
			ProviderType: "checkout.session.completed",
			Checkout: &billing.CheckoutSession{
				ID: "cs_1", SubscriptionMode: true,
				AccountID: uuid.NewString(), SubscriptionID: "sub_1",
			},
		}, nil)
		env.provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(nil, errors.New("provider unavailable"))

		rec := env.do(t, http.MethodPost, "/webhooks/primary", false)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ignored event is acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)
		env.provider.On("ParseWebhook", mock.Anything, mock.Anything).
			Return(&billing.Event{Kind: billing.EventIgnored, ProviderType: "customer.updated"}, nil)

		rec := env.do(t, http.MethodPost, "/webhooks/primary", false)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRouter_Trial(t *testing.T) {
	t.Parallel()

	t.Run("requires authentication", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodPost, "/trial", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("issues a trial once", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodPost, "/trial", true)
		require.Equal(t, http.StatusCreated, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "trialing", body["status"])
		assert.Equal(t, "trial", body["plan"])
		assert.NotEmpty(t, body["trial_ends_at"])

		rec = env.do(t, http.MethodPost, "/trial", true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRouter_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("returns the checkout URL", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)
		env.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil)

		rec := env.do(t, http.MethodPost, "/checkout/supporter?cycle=monthly", true)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "https://checkout.example/cs_1", body["url"])
		assert.Equal(t, false, body["portal"])
	})

	t.Run("unknown plan is 404", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodPost, "/checkout/enterprise", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing price configuration is 500", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodPost, "/checkout/supporter?cycle=annual", true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("provider failure is 502", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)
		env.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, errors.New("provider unavailable"))

		rec := env.do(t, http.MethodPost, "/checkout/supporter", true)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestRouter_CheckoutSuccess(t *testing.T) {
	t.Parallel()

	t.Run("sync failure still returns a friendly page", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)
		env.provider.On("GetCheckoutSession", mock.Anything, "cs_1").
			Return(nil, errors.New("provider unavailable"))

		rec := env.do(t, http.MethodGet, "/checkout/success?session_id=cs_1", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRouter_Portal(t *testing.T) {
	t.Parallel()

	t.Run("no billing identity is 409", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodGet, "/portal", true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown billing account is 404", func(t *testing.T) {
		t.Parallel()
		env := newRouterEnv(t)

		rec := env.do(t, http.MethodGet, "/portal?account=nope", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
