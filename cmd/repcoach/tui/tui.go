package tuicmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/repcoach/cmd/repcoach/cliconfig"
	"github.com/papercomputeco/repcoach/cmd/repcoach/sqlitepath"
	"github.com/papercomputeco/repcoach/pkg/coach"
	"github.com/papercomputeco/repcoach/pkg/llm"
	"github.com/papercomputeco/repcoach/pkg/merkle"
	"github.com/papercomputeco/repcoach/tui"
)

const tuiLongDesc string = `Chat with the AI coach in a full-screen terminal UI.

Replies stream into the conversation as they arrive. Press Esc to
stop a reply, Ctrl+N to start a new conversation and Ctrl+C to quit.

Every turn is recorded in the local conversation DAG unless
--no-record is set.

Examples:
  repcoach tui
  repcoach tui --units imperial --endpoint http://localhost:8080/api/chat`

const tuiShortDesc string = "Chat with the coach interactively"

type tuiCommander struct {
	endpoint   string
	units      string
	sqlitePath string
	noRecord   bool
}

func NewTUICmd() *cobra.Command {
	cmder := &tuiCommander{}

	cmd := &cobra.Command{
		Use:   "tui",
		Short: tuiShortDesc,
		Long:  tuiLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.endpoint, "endpoint", "e", "", "Chat endpoint URL (overrides config)")
	cmd.Flags().StringVarP(&cmder.units, "units", "u", "", "Unit preference: metric or imperial (overrides config)")
	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite database for recorded turns")
	cmd.Flags().BoolVar(&cmder.noRecord, "no-record", false, "Do not record the conversation")

	return cmd
}

func (c *tuiCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, log, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	clientConfig := cliconfig.ClientConfig(cfg)
	if c.endpoint != "" {
		clientConfig.Endpoint = c.endpoint
	}
	if c.units != "" {
		clientConfig.UnitPreference = llm.UnitPreference(c.units)
	}

	client, err := coach.NewClient(clientConfig, log)
	if err != nil {
		return err
	}

	opts := []coach.SessionOption{coach.WithLogger(log)}
	if !c.noRecord {
		override := c.sqlitePath
		if override == "" {
			override = cfg.SQLite
		}
		dbPath, err := sqlitepath.ResolveSQLitePath(override)
		if err != nil {
			return fmt.Errorf("could not resolve database: %w", err)
		}
		storer, err := merkle.NewSQLiteStorer(dbPath)
		if err != nil {
			return fmt.Errorf("could not open database %s: %w", dbPath, err)
		}
		defer storer.Close()
		opts = append(opts, coach.WithRecorder(storer, clientConfig.UserID, clientConfig.UnitPreference))
	}

	status := fmt.Sprintf("%s · %s", clientConfig.UnitPreference, clientConfig.Endpoint)
	return tui.Run(ctx, coach.NewSession(client, opts...), status)
}
