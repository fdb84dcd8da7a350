// Package admin implements nyscctl, the operator command line for the auth
// service database.
package admin

import (
	"fmt"
	"io"
	"os"

	"github.com/gloriousnetworker/nysc-backend/internal/config"
	"github.com/gloriousnetworker/nysc-backend/internal/database"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Opener connects to the database described by cfg.
type Opener func(cfg config.DBConfig) (*gorm.DB, error)

type app struct {
	out      io.Writer
	open     Opener
	flagJSON bool

	cfg *config.Config
	db  *gorm.DB
}

// NewRootCommand builds the command tree. Output goes to out; open is used
// lazily by subcommands that need the database.
func NewRootCommand(out io.Writer, open Opener) *cobra.Command {
	a := &app{out: out, open: open}

	root := &cobra.Command{
		Use:   "nyscctl",
		Short: "Operator tooling for the NYSC auth service",
		Long: `nyscctl runs maintenance tasks against the auth service database.

  nyscctl migrate              Create or update tables
  nyscctl sweep                Delete expired challenges, codes and resets
  nyscctl status EMAIL         Show where an email stands in registration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg = config.Load()
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&a.flagJSON, "json", false, "Output as JSON")

	root.AddCommand(
		a.migrateCommand(),
		a.sweepCommand(),
		a.statusCommand(),
	)
	return root
}

func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := a.open(a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.db = db
	return db, nil
}

// Execute runs nyscctl against the configured Postgres database.
func Execute() error {
	root := NewRootCommand(os.Stdout, database.Connect)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
