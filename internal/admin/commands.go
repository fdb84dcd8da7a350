package admin

import (
	"errors"
	"fmt"

	"github.com/gloriousnetworker/nysc-backend/internal/database"
	"github.com/gloriousnetworker/nysc-backend/internal/services"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/spf13/cobra"
)

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the auth tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			// database.Connect already migrates; a second pass is a no-op.
			if err := database.Migrate(db); err != nil {
				return err
			}
			if a.flagJSON {
				return writeJSON(a.out, map[string]bool{"migrated": true})
			}
			fmt.Fprintln(a.out, "Migrations applied.")
			return nil
		},
	}
}

// sweepCommand runs one sweep, for deployments that schedule it externally
// with SWEEP_INTERVAL=0.
func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired challenges, emailed codes and reset requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			sweeper := services.NewSweeper(store.New(db), store.NewGormChallengeStore(db))
			purged, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			if a.flagJSON {
				return writeJSON(a.out, map[string]int64{"purged": purged})
			}
			fmt.Fprintf(a.out, "Purged %d expired record(s).\n", purged)
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status EMAIL",
		Short: "Show the registration status of an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			registration := services.NewRegistrationService(services.Dependencies{Store: store.New(db)})
			status, err := registration.Status(cmd.Context(), args[0])
			if errors.Is(err, services.ErrNotFound) {
				return fmt.Errorf("no registration found for %s", args[0])
			}
			if err != nil {
				return err
			}

			if a.flagJSON {
				return writeJSON(a.out, statusView(status))
			}
			writeStatus(a.out, status)
			return nil
		},
	}
}
