package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sessionfleet/internal/cli/prompt"
	"github.com/marmos91/sessionfleet/internal/config"
	"github.com/marmos91/sessionfleet/internal/credstore"
	"github.com/marmos91/sessionfleet/internal/crypto"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/sessionstore"
)

var forcePurge bool

var purgeCmd = &cobra.Command{
	Use:   "purge <session-id>",
	Short: "Force-delete a session's record and credentials",
	Long: `Force-delete a session's record and stored credentials.

This is an offline admin operation: it connects directly to the session and
credential stores rather than going through a running fleet, so it should
only be run while confident no live controller holds sessionId (e.g. the
daemon is stopped, or the session is already known-dead). It does not
gracefully disconnect a live socket.

Examples:
  # Purge a session (with confirmation prompt)
  sessionfleetd purge session_5000000042

  # Purge without confirmation
  sessionfleetd purge session_5000000042 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVarP(&forcePurge, "force", "f", false, "Skip confirmation prompt")
}

func runPurge(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Purge session %s? This deletes its record and all stored credentials.", sessionID),
		forcePurge,
	)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mongoSessions, err := sessionstore.NewMongoBacking(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connecting session store to mongo: %w", err)
	}
	postgresSessions, err := sessionstore.NewPostgresBacking(ctx, cfg.Postgres.DSN(), int32(cfg.Postgres.MaxOpenConns))
	if err != nil {
		return fmt.Errorf("connecting session store to postgres: %w", err)
	}
	sessions := sessionstore.NewStore(mongoSessions, postgresSessions)
	defer sessions.Close(ctx)

	credsMongo, err := credstore.NewMongoBacking(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connecting credential store to mongo: %w", err)
	}
	vault, err := crypto.NewVault(cfg.SessionEncryptionKey)
	if err != nil {
		return fmt.Errorf("building credential vault: %w", err)
	}
	creds := credstore.NewStore(credsMongo, vault)
	defer creds.Close(ctx)

	if err := creds.CleanupSession(ctx, sessionID); err != nil {
		logger.WarnCtx(ctx, "credential cleanup failed during purge", logger.SessionID(sessionID), logger.Err(err))
	}
	if err := sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session record: %w", err)
	}

	fmt.Printf("Session %s purged.\n", sessionID)
	return nil
}
