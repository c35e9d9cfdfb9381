package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sessionfleet/internal/api"
	"github.com/marmos91/sessionfleet/internal/auth"
	"github.com/marmos91/sessionfleet/internal/config"
	"github.com/marmos91/sessionfleet/internal/connfactory"
	"github.com/marmos91/sessionfleet/internal/credstore"
	"github.com/marmos91/sessionfleet/internal/crypto"
	"github.com/marmos91/sessionfleet/internal/fleet"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/model"
	"github.com/marmos91/sessionfleet/internal/pairing"
	"github.com/marmos91/sessionfleet/internal/sessionstore"
	"github.com/marmos91/sessionfleet/internal/telemetry"
	"github.com/marmos91/sessionfleet/internal/webhandover"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the session fleet controller",
	Long: `Start the session fleet controller: the API surface, the fleet
bootstrap sweep, and the web-handover detection loop.

Configuration is read from environment variables first, then an optional
--config YAML file, then built-in defaults.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("sessionfleetd starting", "max_sessions", cfg.MaxSessions)

	stopProfiling, err := telemetry.StartProfiling("sessionfleetd", cfg.Profiling.Endpoint, cfg.Profiling.ProfileTypes)
	if err != nil {
		return fmt.Errorf("starting profiler: %w", err)
	}
	defer func() {
		if err := stopProfiling(); err != nil {
			logger.Error("profiler shutdown error", "error", err)
		}
	}()

	if err := sessionstore.RunMigrations(ctx, cfg.Postgres.DSN()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	mongoSessions, err := sessionstore.NewMongoBacking(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connecting session store to mongo: %w", err)
	}
	postgresSessions, err := sessionstore.NewPostgresBacking(ctx, cfg.Postgres.DSN(), int32(cfg.Postgres.MaxOpenConns))
	if err != nil {
		return fmt.Errorf("connecting session store to postgres: %w", err)
	}
	sessions := sessionstore.NewStore(mongoSessions, postgresSessions)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := sessions.Close(closeCtx); err != nil {
			logger.Error("session store shutdown error", "error", err)
		}
	}()

	accounts, err := sessionstore.NewAccountStore(cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("opening account store: %w", err)
	}

	credsMongo, err := credstore.NewMongoBacking(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connecting credential store to mongo: %w", err)
	}
	vault, err := crypto.NewVault(cfg.SessionEncryptionKey)
	if err != nil {
		return fmt.Errorf("building credential vault: %w", err)
	}
	creds := credstore.NewStore(credsMongo, vault)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := creds.Close(closeCtx); err != nil {
			logger.Error("credential store shutdown error", "error", err)
		}
	}()

	factory := connfactory.New(creds, connfactory.NewPlaceholderBuilder(), connfactory.DefaultOptions())
	pairingCoord := pairing.New()

	// handoverCoord and fleetMgr need each other (the coordinator detaches
	// through the fleet, the fleet calls the coordinator on every `open`), so
	// fleetMgr is built first with a late-bound onConnected closure.
	var handoverCoord *webhandover.Coordinator
	fleetMgr := fleet.New(fleet.Config{MaxSessions: cfg.MaxSessions}, sessions, creds, factory, pairingCoord, nil,
		func(sessionID string, source model.Source) {
			if handoverCoord != nil {
				handoverCoord.OnConnected(sessionID, source)
			}
		})
	handoverCoord = webhandover.New(cfg.Handover.Delay, sessions, fleetMgr)
	fleetMgr.SetHandover(handoverCoord)

	detectionLoop := webhandover.NewDetectionLoop(cfg.Fleet.DetectionInterval, sessions, func(ctx context.Context, sess model.Session) error {
		userID, ok := model.UserIDFromSessionID(sess.SessionID)
		if !ok {
			return fmt.Errorf("malformed session id %s", sess.SessionID)
		}
		_, err := fleetMgr.Create(ctx, userID, sess.PhoneNumber, true, model.SourceWeb)
		return err
	})
	detectionLoop.Start(ctx)
	defer detectionLoop.Stop()

	if err := fleetMgr.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping fleet: %w", err)
	}

	jwtService, err := auth.NewService(auth.Config{
		Secret:        cfg.JWTSecret,
		Issuer:        "sessionfleetd",
		TokenDuration: 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("building jwt service: %w", err)
	}

	apiServer := api.NewServer(cfg.API, jwtService, accounts, fleetMgr, sessions, pairingCoord)

	serverDone := make(chan error, 1)
	go func() { serverDone <- apiServer.Start(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("sessionfleetd running", "port", apiServer.Port())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("api server shutdown error", "error", err)
			return err
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("api server error", "error", err)
			return err
		}
	}

	logger.Info("sessionfleetd stopped gracefully")
	return nil
}
