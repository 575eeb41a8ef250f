// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/config"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/adapters/notify"
	"course-booking-engine/internal/infra/adapters/payment"
	"course-booking-engine/internal/infra/api"
	"course-booking-engine/internal/infra/api/apiv1"
	"course-booking-engine/internal/infra/db/memory"
	pg "course-booking-engine/internal/infra/db/postgres"
	"course-booking-engine/internal/infra/db/seed"
	"course-booking-engine/internal/infra/logging"
	"course-booking-engine/internal/infra/metrics"
	"course-booking-engine/internal/infra/obs"
	red "course-booking-engine/internal/infra/redis"
	"course-booking-engine/internal/infra/sched"
	"course-booking-engine/internal/infra/worker"
	"course-booking-engine/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

// stores groups every repository so dev mode can swap the whole set.
type stores struct {
	tm            repository.TransactionManager
	users         repository.UserRepository
	plans         repository.MembershipPlanRepository
	products      repository.ProductRepository
	memberships   repository.MembershipRepository
	ledger        repository.LedgerRepository
	sessions      repository.CourseSessionRepository
	registrations repository.RegistrationRepository
	checkIns      repository.CheckInRepository
	events        repository.ProcessedEventRepository
	purchases     repository.PurchaseRepository
}

func memoryStores() stores {
	s := memory.New()
	return stores{
		tm: s, users: s.Users(), plans: s.Plans(), products: s.Products(),
		memberships: s.Memberships(), ledger: s.Ledger(), sessions: s.Sessions(),
		registrations: s.Registrations(), checkIns: s.CheckIns(), events: s.Events(), purchases: s.Purchases(),
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		tm:            pg.NewTxManager(pool),
		users:         pg.NewPostgresUserRepo(pool),
		plans:         pg.NewPostgresPlanRepo(pool),
		products:      pg.NewPostgresProductRepo(pool),
		memberships:   pg.NewPostgresMembershipRepo(pool),
		ledger:        pg.NewPostgresLedgerRepo(pool),
		sessions:      pg.NewPostgresSessionRepo(pool),
		registrations: pg.NewPostgresRegistrationRepo(pool),
		checkIns:      pg.NewPostgresCheckInRepo(pool),
		events:        pg.NewPostgresProcessedEventRepo(pool),
		purchases:     pg.NewPostgresPurchaseRepo(pool),
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "run on the in-memory store with a seeded catalog")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	loc := cfg.Location()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing, version)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	// ---- Storage ----
	var st stores
	var redisClient *red.Client
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] in-memory store, noop payments")
		st = memoryStores()
		res, err := seed.Seed(ctx, seed.Repos{Users: st.users, Plans: st.plans, Products: st.products, Sessions: st.sessions, Memberships: st.memberships}, time.Now(), loc)
		if err != nil {
			logger.Fatal().Err(err).Msg("seed")
		}
		if tok, err := api.NewAuthManager(cfg.Auth.JWTSecret).Mint(res.MemberID, 24*time.Hour); err == nil {
			logger.Info().Str("user_id", res.MemberID).Str("token", tok).Msg("dev member token")
		}
	} else {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx, pool); err != nil {
				logger.Fatal().Err(err).Msg("migrate")
			}
		}
		go reportPoolStats(ctx, pool)
		st = postgresStores(pool)

		if cfg.Redis.URL != "" {
			redisClient, err = red.NewClient(ctx, &cfg.Redis)
			if err != nil {
				// redis backs optional concerns only
				logger.Warn().Err(err).Msg("redis unavailable, running without cache, lock and rate limit")
			} else {
				defer redisClient.Close()
				st.plans = pg.NewPlanRepoCacheDecorator(st.plans, redisClient, cfg.Redis.TTL, logger)
			}
		}
	}

	// ---- Adapters ----
	var processor adapter.PaymentProcessor
	if cfg.Runtime.Dev && cfg.Payment.BaseURL == "" {
		processor = payment.NewNoopProcessor()
	} else {
		processor, err = payment.NewHTTPProcessor(cfg.Payment.BaseURL, cfg.Payment.APIKey, cfg.Payment.SuccessURL, cfg.Payment.CancelURL, cfg.Payment.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("payment processor")
		}
	}

	pool := worker.NewPool(cfg.Notify.Workers, logger)
	pool.Start(ctx)
	defer pool.Stop()
	notifier := buildNotifier(cfg.Notify, pool, logger)

	// ---- Use cases ----
	opts := []usecase.Option{usecase.WithLocation(loc)}
	ledger := usecase.NewLedgerUseCase(st.tm, st.memberships, st.ledger, cfg.Ledger.MaxAttempts, logger)
	allowance := usecase.NewAllowanceService(ledger, st.registrations, st.checkIns, loc)
	waitlist := usecase.NewWaitlistPromoter(st.tm, st.users, st.sessions, st.registrations, st.memberships, st.plans,
		allowance, notifier, cfg.Booking.MaxPromotionAttempts, logger, opts...)
	booking := usecase.NewBookingUseCase(st.tm, st.users, st.sessions, st.registrations, st.checkIns, st.memberships, st.plans,
		allowance, waitlist, notifier, logger, opts...)
	activation := usecase.NewActivationUseCase(st.tm, st.memberships, st.users, notifier, logger, opts...)
	upgrades := usecase.NewUpgradeScheduler(st.memberships, st.plans, processor, logger, opts...)
	events := usecase.NewEventUseCase(st.tm, st.events, st.memberships, st.plans, st.products, st.purchases,
		ledger, upgrades, activation, processor, logger, opts...)
	checkout := usecase.NewCheckoutUseCase(st.users, st.plans, st.products, st.memberships, st.purchases, processor, logger, opts...)

	// ---- Activation worker ----
	var locker red.Locker
	if redisClient != nil {
		locker = red.NewLocker(redisClient)
	}
	activator := sched.NewActivationWorker(cfg.Scheduler.ActivationInterval, activation, locker, logger)
	go func() { _ = activator.Run(ctx) }()

	// ---- HTTP ----
	srvOpts := []apiv1.ServerOption{apiv1.WithWebhookSecret(cfg.Payment.WebhookSecret)}
	if redisClient != nil {
		srvOpts = append(srvOpts, apiv1.WithBookingRateLimit(red.NewRateLimiter(redisClient), cfg.HTTP.BookingsPerMinute))
	}
	v1 := apiv1.NewServer(booking, checkout, events, api.NewAuthManager(cfg.Auth.JWTSecret), logger, srvOpts...)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewRouter(v1, cfg.HTTP.RequestTimeout, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = server.Shutdown(shutdownCtx)
	cancel()
}

// buildNotifier fans out to every configured channel behind the worker pool.
func buildNotifier(cfg config.NotifyConfig, pool *worker.Pool, logger *zerolog.Logger) adapter.Notifier {
	var channels notify.Multi
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp publisher disabled")
		} else {
			channels = append(channels, pub)
		}
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier disabled")
		} else {
			channels = append(channels, tg)
		}
	}
	if len(channels) == 0 {
		return notify.Noop{}
	}
	return notify.NewAsync(channels, pool, logger)
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns(), s.MaxConns())
		}
	}
}
