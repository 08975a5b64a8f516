package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smartpot-app-go/internal/telemetry"
	"smartpot-app-go/internal/telemetry/client"
)

type WatchOptions struct {
	*RootOptions
	MaxAttempts int
	BaseDelay   time.Duration
	Count       int
	History     bool

	// Dialer overrides the websocket dialer in tests.
	Dialer client.Dialer
}

var errGaveUp = errors.New("gave up reconnecting")

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [flower-id]",
		Short: "Follow the live measurements of a flower",
		Long: `Connect to a flower's measurement stream and print every update.

The connection is retried with a linear backoff and abandoned after
--max-attempts consecutive failures.

Example:
  potwatch watch --server http://localhost:8080 --token $TOKEN 3f2c...
  potwatch watch --config potwatch.yaml --history --count 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flowerID := opts.config.Flower
			if len(args) == 1 {
				flowerID = args[0]
			}
			if flowerID == "" {
				return fmt.Errorf("flower id is required (argument or config)")
			}

			if !cmd.Flags().Changed("max-attempts") && opts.config.MaxAttempts > 0 {
				opts.MaxAttempts = opts.config.MaxAttempts
			}
			if !cmd.Flags().Changed("base-delay") && opts.config.BaseDelay > 0 {
				opts.BaseDelay = opts.config.BaseDelay
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, flowerID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", client.DefaultMaxAttempts, "consecutive failures before giving up")
	cmd.Flags().DurationVar(&opts.BaseDelay, "base-delay", client.DefaultBaseDelay, "backoff unit; the nth retry waits n times this")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many measurement updates (0 = run until interrupted)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "request recent history after each connect")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, flowerID string, out io.Writer) error {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = client.WebSocketDialer{BaseURL: opts.Server}
	}

	c := client.New(dialer, client.Config{
		FlowerID:    flowerID,
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   opts.BaseDelay,
	}, opts.log)
	defer c.Close()

	c.Connect(opts.Token)

	updates := 0
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return nil
		case change := <-c.States():
			printState(out, change)
			switch change.To {
			case client.StateConnected:
				if opts.History {
					if err := c.RequestMeasurements(); err != nil {
						opts.log.Debug("watch: history request failed", "error", err)
					}
				}
			case client.StateDisconnected:
				return fmt.Errorf("%w after %d attempts: %v", errGaveUp, change.Attempt, change.Err)
			case client.StateError:
				return change.Err
			}
		case event := <-c.Events():
			printEvent(out, event)
			if event.Measurement != nil {
				updates++
				if opts.Count > 0 && updates >= opts.Count {
					c.Disconnect()
					return nil
				}
			}
		}
	}
}

var (
	stateColors = map[client.State]*color.Color{
		client.StateConnecting:   color.New(color.FgCyan),
		client.StateConnected:    color.New(color.FgGreen),
		client.StateReconnecting: color.New(color.FgYellow),
		client.StateDisconnected: color.New(color.FgRed),
		client.StateError:        color.New(color.FgRed, color.Bold),
		client.StateIdle:         color.New(color.FgWhite),
	}
	valueColor   = color.New(color.FgHiWhite, color.Bold)
	deletedColor = color.New(color.FgMagenta)
	rebindColor  = color.New(color.FgBlue)
)

func printState(out io.Writer, change client.StateChange) {
	label := stateColors[change.To].Sprint(string(change.To))
	switch {
	case change.To == client.StateReconnecting:
		fmt.Fprintf(out, "[%s] attempt %d, retrying in %s", label, change.Attempt, change.Delay)
	default:
		fmt.Fprintf(out, "[%s]", label)
	}
	if change.Err != nil {
		fmt.Fprintf(out, " (%v)", change.Err)
	}
	fmt.Fprintln(out)
}

func printEvent(out io.Writer, event client.Event) {
	switch event.Type {
	case telemetry.TypeConnection, telemetry.TypeError:
		fmt.Fprintf(out, "%s: %s\n", event.Type, event.Message)
	case telemetry.TypeMeasurementInserted, telemetry.TypeMeasurementUpdated:
		m := event.Measurement
		verb := "new"
		if event.Type == telemetry.TypeMeasurementUpdated {
			verb = "updated"
		}
		fmt.Fprintf(out, "%s %-11s %s at %s\n", verb, m.Type, valueColor.Sprintf("%.2f", m.Value), m.CreatedAt.Local().Format(time.TimeOnly))
	case telemetry.TypeMeasurementDeleted:
		fmt.Fprintf(out, "%s %s %s\n", deletedColor.Sprint("deleted"), event.Deleted.Type, event.Deleted.MeasurementID)
	case telemetry.TypeRebind:
		serial := "none"
		if event.Rebind.SerialNumber != nil {
			serial = *event.Rebind.SerialNumber
		}
		fmt.Fprintf(out, "%s now in pot %s\n", rebindColor.Sprint("rebind"), serial)
	case telemetry.TypeMeasurements:
		types := make([]string, 0, len(event.History))
		for t := range event.History {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			items := event.History[t]
			if len(items) == 0 {
				continue
			}
			fmt.Fprintf(out, "history %-11s %d readings, latest %s\n", t, len(items), valueColor.Sprintf("%.2f", items[0].Value))
		}
	}
}
