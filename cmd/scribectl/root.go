package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/MrWong99/scribe/internal/template"
)

// dsnEnv is read when --dsn is not given.
const dsnEnv = "SCRIBE_POSTGRES_DSN"

// openFunc opens the template library and returns a release function.
type openFunc func(ctx context.Context, dsn string) (*template.Service, func(), error)

type cli struct {
	verbose bool
	dsn     string
	open    openFunc
}

// newRootCmd builds the command tree. open is used by every template
// subcommand to reach the library.
func newRootCmd(open openFunc) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "scribectl",
		Short: "Administer scribe note templates and normalize generation output",
		Long: `scribectl works against the same PostgreSQL template library as the scribe
server, and converts raw note-generation responses into SOAP notes offline.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newNormalizeCmd())
	root.AddCommand(c.newTemplateCmd())
	return root
}

// templates opens the library named by --dsn or the environment.
func (c *cli) templates(ctx context.Context) (*template.Service, func(), error) {
	dsn := c.dsn
	if dsn == "" {
		dsn = os.Getenv(dsnEnv)
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("no database: pass --dsn or set %s", dsnEnv)
	}
	return c.open(ctx, dsn)
}

func openPostgres(ctx context.Context, dsn string) (*template.Service, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	store := template.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return template.NewService(store), pool.Close, nil
}
