package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	billingmod "github.com/mintkit/hub/modules/billing"
	"github.com/mintkit/hub/pkg/billing"
	"github.com/mintkit/hub/pkg/config"
	"github.com/mintkit/hub/pkg/email"
	"github.com/mintkit/hub/pkg/environment"
	"github.com/mintkit/hub/pkg/httpserver"
	"github.com/mintkit/hub/pkg/logger"
	"github.com/mintkit/hub/pkg/pg"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	CatalogPath string `env:"BILLING_CATALOG_PATH" envDefault:"configs/plans.yaml"`

	HTTP  httpserver.Config
	DB    pg.Config
	Email email.Config

	Stripe billing.StripeConfig `envPrefix:"STRIPE_"`

	// Partner integration account; optional, enabled when a key is set.
	PartnerAPIKey        string `env:"PARTNER_STRIPE_API_KEY"`
	PartnerWebhookSecret string `env:"PARTNER_STRIPE_WEBHOOK_SECRET"`
	PartnerCatalogPath   string `env:"BILLING_PARTNER_CATALOG_PATH"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	env := environment.Parse(cfg.Env)
	log := logger.New(logger.WithEnvironment(env, "hub"))
	logger.SetAsDefault(log)

	if err := run(context.Background(), cfg, env, log); err != nil {
		log.Error("hub exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, env environment.Environment, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.DB, log); err != nil {
		return err
	}

	svc, err := buildBillingService(cfg, env, log, pool)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	healthy := pg.Healthcheck(pool)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := healthy(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	r.Mount("/subscriptions", billingmod.Router(billingmod.RouterOptions{
		Service: svc,
		Account: accountFromRequest,
		Logger:  log,
	}))

	return httpserver.New(cfg.HTTP, log).Run(ctx, r)
}

func buildBillingService(cfg appConfig, env environment.Environment, log *slog.Logger, pool *pgxpool.Pool) (*billing.Service, error) {
	catalog, err := billing.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	primary, err := billing.NewStripeProvider(cfg.Stripe)
	if err != nil {
		return nil, err
	}
	accounts := []*billing.BillingAccount{{
		Label:    "primary",
		Provider: primary,
		Catalog:  catalog,
	}}

	if cfg.PartnerAPIKey != "" {
		partnerCatalog := catalog
		if cfg.PartnerCatalogPath != "" {
			if partnerCatalog, err = billing.LoadCatalog(cfg.PartnerCatalogPath); err != nil {
				return nil, err
			}
		}
		partner, err := billing.NewStripeProvider(billing.StripeConfig{
			APIKey:        cfg.PartnerAPIKey,
			WebhookSecret: cfg.PartnerWebhookSecret,
		})
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, &billing.BillingAccount{
			Label:    "partner",
			Provider: partner,
			Catalog:  partnerCatalog,
		})
	}

	directory := billing.NewPGDirectory(pool)

	var sender email.EmailSender
	if env.IsProduction() {
		if sender, err = email.NewPostmarkClient(cfg.Email); err != nil {
			return nil, err
		}
	} else {
		sender = email.NewDevSender(log)
	}

	return billing.NewService(
		billing.NewPGStore(pool),
		directory,
		accounts,
		billing.WithNotifier(billing.NewEmailNotifier(sender, directory)),
		billing.WithLogger(log),
	)
}

// accountFromRequest trusts the X-Account-ID header set by the
// authenticating reverse proxy in front of this service.
func accountFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.Header.Get("X-Account-ID"))
}
