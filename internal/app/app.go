package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"skillzio/internal/catalog"
	"skillzio/internal/certificate"
	"skillzio/internal/checkout"
	"skillzio/internal/config"
	"skillzio/internal/enrollment"
	"skillzio/internal/gateway"
	"skillzio/internal/httpapi"
	"skillzio/internal/messaging"
	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/revenue"
	"skillzio/internal/storage"
	"skillzio/internal/wallet"
	"skillzio/internal/websocket"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	consumer  *messaging.Consumer
	gateway   *gatewayEvents
	httpSrv   *http.Server
}

// stores groups the persistence of every component so Postgres and memory
// deployments wire the same way.
type stores struct {
	wallets     wallet.Store
	orders      order.Store
	payments    payment.Store
	enrollments enrollment.Store
	outbox      messaging.Outbox
	inbox       messaging.Inbox
	catalog     interface {
		checkout.Catalog
		checkout.Cart
		certificate.Catalog
		certificate.Users
		enrollment.ChapterLister
		revenue.AdminResolver
	}
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	var admin revenue.AdminResolver = st.catalog
	if cfg.PlatformAccount != uuid.Nil {
		admin = catalog.StaticAdmin(cfg.PlatformAccount)
	}

	gw, verify, err := newGateway(cfg, logger)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.wsHub = websocket.NewHub(logger)

	wallets := wallet.NewLedger(st.wallets, logger)
	orders := order.NewLedger(st.orders, logger)
	payments := payment.NewRecorder(st.payments, logger)
	issuer := certificate.NewIssuer(st.enrollments, st.catalog, st.catalog, certificate.URLRenderer{BaseURL: cfg.CertificateBaseURL}, logger)
	enrollments := enrollment.NewManager(st.enrollments, st.catalog, issuer, logger)
	distributor, err := revenue.NewDistributor(wallets, admin, revenue.Config{InstructorShare: decimal.NewNullDecimal(cfg.InstructorShare)}, logger)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	orch := checkout.New(checkout.Deps{
		Orders:      orders,
		Wallets:     wallets,
		Payments:    payments,
		Enrollments: enrollments,
		Revenue:     distributor,
		Catalog:     st.catalog,
		Cart:        st.catalog,
		Gateway:     gw,
		Outbox:      st.outbox,
		Notifier:    a.wsHub,
	}, checkout.Options{
		Currency:         cfg.Currency,
		VerifySignatures: verify,
	}, logger)

	if err := a.connectBroker(); err != nil {
		a.closeStore()
		return nil, err
	}
	a.gateway = &gatewayEvents{checkout: orch, orders: orders, inbox: st.inbox, logger: logger}

	api := httpapi.NewServer(httpapi.Deps{
		Checkout:    orch,
		Orders:      orders,
		Payments:    payments,
		Enrollments: enrollments,
		Wallets:     wallets,
	}, logger)
	api.HandleFunc("GET /orders/{orderID}/ws", websocket.NewHandler(a.wsHub, orders, logger).ServeWS)
	a.httpSrv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}
	return a, nil
}

// newGateway picks the real gateway client when a base URL is configured and
// the sandbox otherwise. The real client always verifies signatures; the
// sandbox verifies them whenever a secret is set.
func newGateway(cfg config.Config, logger *slog.Logger) (checkout.Gateway, bool, error) {
	if cfg.GatewayBaseURL != "" {
		client, err := gateway.NewClient(gateway.Config{
			BaseURL:   cfg.GatewayBaseURL,
			KeyID:     cfg.GatewayKeyID,
			KeySecret: cfg.GatewayKeySecret,
			Timeout:   cfg.GatewayTimeout,
		}, logger)
		if err != nil {
			return nil, false, fmt.Errorf("configure gateway: %w", err)
		}
		return client, true, nil
	}

	if cfg.GatewayKeySecret == "" {
		logger.Error("sandbox gateway without GATEWAY_KEY_SECRET accepts unsigned payment confirmations, never run it in production")
		return gateway.Sandbox{}, false, nil
	}
	logger.Warn("no payment gateway configured, using sandbox")
	return gateway.Sandbox{Secret: cfg.GatewayKeySecret}, true, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Warn("no database configured, state is kept in memory")
		return stores{
			wallets:     wallet.NewMemoryStore(),
			orders:      order.NewMemoryStore(),
			payments:    payment.NewMemoryStore(),
			enrollments: enrollment.NewMemoryStore(),
			outbox:      messaging.NewMemoryOutbox(),
			inbox:       messaging.NewMemoryInbox(),
			catalog:     catalog.NewMemory(),
		}, nil
	}

	store, err := storage.New(ctx, storage.Options{
		URL:          a.cfg.DatabaseURL,
		TraceQueries: a.cfg.TraceQueries,
		MaxConns:     int32(a.cfg.DBMaxConns),
	}, a.logger)
	if err != nil {
		return stores{}, err
	}
	a.store = store

	pool := store.Pool()
	return stores{
		wallets:     wallet.NewPostgresStore(pool),
		orders:      order.NewPostgresStore(pool),
		payments:    payment.NewPostgresStore(pool),
		enrollments: enrollment.NewPostgresStore(pool),
		outbox:      messaging.NewPostgresOutbox(pool),
		inbox:       messaging.NewPostgresInbox(pool),
		catalog:     catalog.NewPostgres(pool, a.cfg.AdminEmail),
	}, nil
}

// connectBroker sets up publishing and consuming when both a broker and a
// database are configured. The outbox needs the database to drain from.
func (a *App) connectBroker() error {
	if a.cfg.RabbitURL == "" || a.store == nil {
		a.logger.Warn("message broker disabled", "rabbit_configured", a.cfg.RabbitURL != "", "database_configured", a.store != nil)
		return nil
	}

	publisher, err := messaging.NewRabbitPublisher(a.cfg.RabbitURL, a.cfg.EventsExchange)
	if err != nil {
		return err
	}
	consumer, err := messaging.NewRabbitConsumer(a.cfg.RabbitURL, a.cfg.GatewayExchange, a.cfg.GatewayQueue, a.logger)
	if err != nil {
		publisher.Close()
		return err
	}

	a.publisher = publisher
	a.consumer = consumer
	a.outbox = messaging.NewOutboxDispatcher(a.store.Pool(), publisher, a.cfg.OutboxInterval, a.cfg.OutboxBatchSize, a.logger)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go a.wsHub.Run(ctx)

	if a.outbox != nil {
		a.outbox.Start(ctx)
	}
	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx, a.gateway.handle); err != nil {
				errCh <- fmt.Errorf("gateway consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("checkout http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "err", err)
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	a.closeStore()
}

func (a *App) closeStore() {
	if a.store != nil {
		a.store.Close()
	}
}

func Run() error {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
