package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/medlink/internal/auth"
	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/config"
	"github.com/ariefcatur/medlink/internal/events"
	"github.com/ariefcatur/medlink/internal/httpx"
	kafkax "github.com/ariefcatur/medlink/internal/kafka"
	"github.com/ariefcatur/medlink/internal/logx"
	"github.com/ariefcatur/medlink/internal/memstore"
	"github.com/ariefcatur/medlink/internal/paystack"
	"github.com/ariefcatur/medlink/internal/postgres"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/ariefcatur/medlink/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "medlink-api",
		Short: "MedLink prescription workflow and checkout API",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var inMemory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(inMemory)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep state in memory (development only, no Postgres, Redis or Kafka)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := context.Background()
			pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := postgres.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", n)
			return nil
		},
	})
	return cmd
}

// backend is everything the services need from infrastructure.
type backend struct {
	store interface {
		prescriptions.Store
		checkout.Store
	}
	cache     prescriptions.StatusCache
	locker    checkout.Locker
	publisher events.Publisher
	ready     httpx.Pinger
	close     func()
}

func runServer(inMemory bool) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logx.New(cfg.Env, cfg.LogLevel, cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		be  *backend
		err error
	)
	if inMemory {
		if !cfg.IsDev() {
			return errors.New("--in-memory is only allowed with ENV=development")
		}
		be = memoryBackend(log)
	} else {
		be, err = liveBackend(ctx, cfg, log)
		if err != nil {
			return err
		}
	}
	defer be.close()

	obs := logx.NewObserver(log)
	workflow := prescriptions.NewService(be.store,
		prescriptions.WithStatusCache(be.cache),
		prescriptions.WithObserver(obs),
		prescriptions.WithPublisher(be.publisher, cfg.ServiceName),
	)
	gateway := paystack.New(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.PaystackTimeout)
	co := checkout.NewService(be.store, gateway,
		checkout.Settings{
			TaxRate:     cfg.TaxRate,
			Currency:    cfg.Currency,
			CallbackURL: cfg.PaystackCallbackURL,
			Producer:    cfg.ServiceName,
		},
		checkout.WithLocker(be.locker, redisx.TTLCheckoutLock),
		checkout.WithTransitions(workflow),
		checkout.WithPublisher(be.publisher),
		checkout.WithObserver(obs),
	)

	var authn auth.Authenticator = auth.JWT{Secret: []byte(cfg.JWTSecret)}
	if cfg.AuthMode == config.AuthModeHeader {
		log.Warn().Msg("AUTH_MODE=header: trusting X-User-ID and X-Role headers")
		authn = auth.Header{}
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		Log:       log,
		Auth:      authn,
		Ready:     be.ready,
		RateRPS:   cfg.CheckoutRateRPS,
		RateBurst: cfg.CheckoutRateBurst,
	}, &httpx.ActionsHandler{Workflow: workflow, Checkout: co})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Bool("in_memory", inMemory).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	return nil
}

func liveBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backend, error) {
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	rdb := redisx.New(cfg.RedisAddr)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	return &backend{
		store:     checkout.NewPGStore(pool),
		cache:     redisx.NewStatusCache(rdb),
		locker:    redisx.NewLocker(rdb),
		publisher: prod,
		ready:     pool,
		close: func() {
			prod.Close()
			prod.WaitClosed()
			_ = rdb.Close()
			pool.Close()
		},
	}, nil
}

// memoryBackend seeds one submitted prescription so the flow can be driven
// end to end by hand.
func memoryBackend(log zerolog.Logger) *backend {
	st := memstore.New()
	id, meds := st.Seed(
		prescriptions.Prescription{PatientID: 1, HospitalID: 2},
		prescriptions.Medicine{Name: "Amoxicillin", Dosage: "500mg", Frequency: "3x daily", Duration: "7 days"},
		prescriptions.Medicine{Name: "Paracetamol", Dosage: "1g", Frequency: "as needed", Duration: "5 days"},
	)
	log.Info().Int64("prescription_id", id).Ints64("medicine_ids", meds).Msg("seeded in-memory prescription")

	return &backend{
		store:     st,
		publisher: events.NopPublisher{},
		close:     func() {},
	}
}
