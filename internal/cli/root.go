package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"smartpot-app-go/pkg/logger"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Server     string
	Token      string
	Verbose    bool

	config Config
	log    logger.Logger
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "potwatch",
		Short: "Watch and feed smart pot telemetry",
		Long: `potwatch follows the live measurement stream of a flower and can post
readings the way a device gateway does.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "server base URL (e.g. http://localhost:8080)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "session token")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log client internals to stderr")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))

	return cmd
}

func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := LoadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	o.config = cfg

	if !cmd.Flags().Changed("server") {
		o.Server = cfg.Server
	}
	if !cmd.Flags().Changed("token") {
		o.Token = cfg.Token
	}
	o.Server = strings.TrimRight(strings.TrimSpace(o.Server), "/")
	if o.Server == "" {
		return fmt.Errorf("server is required (flag --server or config)")
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.log = logger.New(cmd.ErrOrStderr(), level, "text")
	return nil
}
