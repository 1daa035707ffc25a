package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/dmitrijs2005/clinicdesk/internal/buildinfo"
	"github.com/dmitrijs2005/clinicdesk/internal/client/cli"
	"github.com/dmitrijs2005/clinicdesk/internal/client/client"
	"github.com/dmitrijs2005/clinicdesk/internal/client/config"
	"github.com/dmitrijs2005/clinicdesk/internal/client/credstore"
	"github.com/dmitrijs2005/clinicdesk/internal/client/gateway"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/client/recordstore"
	"github.com/dmitrijs2005/clinicdesk/internal/client/repositories/kv"
	"github.com/dmitrijs2005/clinicdesk/internal/client/services"
	"github.com/dmitrijs2005/clinicdesk/internal/client/tokensource"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
	"github.com/dmitrijs2005/clinicdesk/internal/metrics"
	"github.com/jonboulle/clockwork"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if s, ok := logger.(interface{ Sync() error }); ok {
		defer func() { _ = s.Sync() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "clinicdesk stopped", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	m := metrics.NewMetrics("clinicdesk")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Warn(ctx, "metrics server stopped", "error", err)
			}
		}()
	}

	db, err := client.InitDatabase(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	hc := &http.Client{Timeout: cfg.RequestTimeout}

	// The session tier lives only as long as the process; the durable tier
	// holds PIN-encrypted credentials on disk.
	store := credstore.New(kv.NewMemoryRepository(), kv.NewSQLiteRepository(db), logger)
	tokens := tokensource.New(store, tokenOptions(cfg, hc, logger, m)...)
	records := newRecordStore(cfg, tokens, store, hc, logger, m)

	identity := newFirebase(cfg, hc, logger)
	go identity.StartAutoRefresh(ctx, cfg.IdentityRefreshInterval)
	backend := client.NewBackendClient(cfg.BackendURL, hc)

	deps := services.Deps{
		Identity: identity,
		Backend:  backend,
		Store:    store,
		Tokens:   tokens,
		Records:  records,
		Log:      logger,
		Metrics:  m,
	}

	if cfg.OAuthClientID != "" {
		consent := client.NewGoogleConsent(client.OAuthConfig{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURI:  cfg.OAuthRedirectURI,
			Scopes:       cfg.Scopes,
		}, hc, clockwork.NewRealClock(), logger)
		go consent.StartAutoRefresh(ctx, cfg.IdentityRefreshInterval)
		deps.Consent = consent
	}

	renderer := cli.NewRenderer(os.Stdout)
	deps.Sink = renderer

	identityEvents := identity.Subscribe()
	var consentEvents <-chan models.TokenEvent
	if deps.Consent != nil {
		consentEvents = deps.Consent.Subscribe()
	}

	// Each orchestrator shares the credential store, so a rebuilt one
	// restores whatever session the previous one left behind.
	build := func() cli.Orchestrator {
		o := services.NewOrchestrator(deps)
		go o.Watch(ctx, identityEvents)
		if consentEvents != nil {
			go o.Watch(ctx, consentEvents)
		}
		return o
	}

	checker := cli.NewChecker(newFirebase(cfg, hc, logger), backend, connector(cfg, hc, logger, m))

	app := cli.NewApp(build(), records, checker, renderer, os.Stdin, os.Stdout)
	app.EnableReload(build)
	defer app.Close()
	app.Run(ctx)
	return nil
}

func newFirebase(cfg *config.Config, hc *http.Client, logger logging.Logger) *client.FirebaseClient {
	return client.NewFirebaseClient(cfg.FirebaseAPIKey,
		client.WithIdentityBaseURL(cfg.IdentityBaseURL),
		client.WithSecureTokenBaseURL(cfg.SecureTokenBaseURL),
		client.WithFirebaseHTTPClient(hc),
		client.WithFirebaseLogger(logger),
	)
}

func tokenOptions(cfg *config.Config, hc *http.Client, logger logging.Logger, m *metrics.Metrics) []tokensource.Option {
	opts := []tokensource.Option{
		tokensource.WithHTTPClient(hc),
		tokensource.WithScopes(cfg.Scopes...),
		tokensource.WithLogger(logger),
		tokensource.WithMetrics(m),
	}
	if cfg.TokenURI != "" {
		opts = append(opts, tokensource.WithTokenURI(cfg.TokenURI))
	}
	return opts
}

func newRecordStore(cfg *config.Config, tokens gateway.TokenProvider, restorer gateway.CredentialRestorer,
	hc *http.Client, logger logging.Logger, m *metrics.Metrics) *recordstore.Store {
	gw := gateway.New(tokens, restorer,
		gateway.WithHTTPClient(hc),
		gateway.WithRateLimit(cfg.RateLimitRPS),
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
	)
	return recordstore.New(gw,
		recordstore.WithDriveBaseURL(cfg.DriveBaseURL),
		recordstore.WithSheetsBaseURL(cfg.SheetsBaseURL),
	)
}

// connector builds a throwaway session for the check command, so a check
// run never touches the signed-in user's tokens or stored credential.
func connector(cfg *config.Config, hc *http.Client, logger logging.Logger, m *metrics.Metrics) cli.ConnectFunc {
	return func(ctx context.Context, sa models.ServiceAccount) (cli.SpreadsheetLister, error) {
		store := credstore.New(kv.NewMemoryRepository(), kv.NewMemoryRepository(), logger)
		tokens := tokensource.New(store, tokenOptions(cfg, hc, logger, m)...)
		if err := tokens.Login(ctx, sa); err != nil {
			return nil, err
		}
		return newRecordStore(cfg, tokens, store, hc, logger, m), nil
	}
}
