package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/linyora/settlement/internal/agreement"
	"github.com/linyora/settlement/internal/clearance"
	"github.com/linyora/settlement/internal/config"
	"github.com/linyora/settlement/internal/gateway"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/logging"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/middleware"
	"github.com/linyora/settlement/internal/notification"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/payout"
	"github.com/linyora/settlement/internal/settings"
	"github.com/linyora/settlement/internal/store"
	"github.com/linyora/settlement/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache,
// Gateway and Store may be nil in development; in-memory and static fallbacks
// are used instead.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Gateway gateway.Gateway
	Store   store.Store
}

// Services are the components background jobs share with the HTTP layer.
type Services struct {
	Store      store.Store
	Clearance  *clearance.Service
	Dispatcher *outbox.Dispatcher
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics(d.Metrics))
	if len(d.Cfg.CORSAllowedOrigins) > 0 {
		app.Use(adaptor.HTTPMiddleware(cors.New(cors.Options{
			AllowedOrigins:   d.Cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: true,
		}).Handler))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// Services
	st := d.Store
	if st == nil {
		if d.DB != nil {
			st = store.NewPostgres(d.DB)
		} else {
			d.Logger.Warn("no database configured, using in-memory store")
			st = store.NewMemory()
		}
	}
	gw := d.Gateway
	if gw == nil {
		gw = gateway.StaticGateway{Logger: d.Logger}
	}

	var cfgProvider settings.Provider = settings.Static{
		CommissionPercent: d.Cfg.CommissionPercent,
		ClearanceDays:     d.Cfg.ClearanceHoldDays,
	}
	if d.DB != nil {
		cfgProvider = settings.NewPostgres(d.DB, cfgProvider)
	}
	if d.Cache != nil && d.Cfg.SettingsCacheTTL > 0 {
		cfgProvider = settings.NewCached(d.Cache, cfgProvider, d.Cfg.SettingsCacheTTL, d.Logger)
	}

	notifiers := notification.Fanout{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil {
		notifiers = append(notifiers, notification.NewRedisNotifier(d.Cache))
	}

	agreementSvc := agreement.NewService(store.AgreementRunner(st), gw, cfgProvider, d.Metrics, d.Logger)
	payoutSvc := payout.NewService(store.PayoutRunner(st), d.Cfg.MinPayoutAmount, d.Metrics, d.Logger)
	walletSvc := wallet.NewService(store.WalletRunner(st))
	clearanceSvc := clearance.NewService(store.ClearanceRunner(st), cfgProvider, d.Metrics, d.Logger)
	dispatcher := outbox.NewDispatcher(store.OutboxRunner(st), notifiers, d.Logger).WithMaxAttempts(d.Cfg.OutboxMaxAttempts)

	secret := []byte(d.Cfg.JWTSecret)
	verifier := identity.NewVerifier(secret)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if d.Cfg.IsDev() {
		RegisterDevTokenRoute(api, identity.NewIssuer(secret, d.Cfg.TokenTTL), d.Logger)
	}

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(verifier))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterAgreementRoutes(protected, agreement.NewHandler(agreementSvc))
	RegisterPayoutRoutes(protected, payout.NewHandler(payoutSvc), middleware.RateLimit(d.Cache, d.Cfg.PayoutsPerMinute, d.Logger))
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))

	// Operator routes
	opKey := identity.NewOperatorKey(d.Cfg.OperatorKeyHash)
	if opKey.Enabled() {
		RegisterOpsRoutes(app.Group("/ops", middleware.OperatorKey(opKey)), clearanceSvc, dispatcher, d.Metrics)
	} else {
		d.Logger.Info("OPERATOR_KEY_HASH not set, /ops endpoints disabled")
	}

	return &Services{Store: st, Clearance: clearanceSvc, Dispatcher: dispatcher}, nil
}
