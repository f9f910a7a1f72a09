// Command happenin-client is the device side of happenin: it captures
// payment confirmations into the offline queue and replays them to the
// settlement server when it is reachable.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/happenin/internal/adapters/http/client"
	"github.com/okian/happenin/internal/adapters/mq/offlinequeue"
	"github.com/okian/happenin/internal/adapters/mq/worker"
	"github.com/okian/happenin/internal/config"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by the subcommands.
type cli struct {
	configPath string
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "happenin-client",
		Short: "Capture registrations offline and replay them to the settlement server",
		Long: `happenin-client keeps a device-local queue of user intents.

Registrations confirmed by the payment gateway while the device is offline
are queued with enqueue-registration and delivered by replay or watch once
the server answers its health probe.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Context())
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file (overrides HAPPENIN_CONFIG)")

	root.AddCommand(c.enqueueCmd())
	root.AddCommand(c.queueCmd())
	root.AddCommand(c.replayCmd())
	root.AddCommand(c.watchCmd())
	return root
}

func (c *cli) load(ctx context.Context) error {
	cfg, err := config.Load(ctx, c.configPath)
	if err != nil {
		return err
	}
	if err := logger.InitWithWriter(os.Stderr, cfg.LogFormat); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}
	c.cfg = cfg
	c.log = logger.Named("client")
	return nil
}

func (c *cli) openQueue(ctx context.Context) (*offlinequeue.SQLiteQueue, error) {
	return offlinequeue.Open(ctx, c.cfg.QueuePath, offlinequeue.WithLogger(c.log.Named("queue")))
}

func (c *cli) replayer(q offlinequeue.Queue, out io.Writer) *worker.Replayer {
	return worker.New(q,
		worker.WithLogger(c.log),
		worker.WithPolicy(retry.Policy{
			MaxAttempts: retry.DefaultMaxAttempts,
			Initial:     c.cfg.BackoffInitial(),
			Multiplier:  c.cfg.BackoffMultiplier,
			Max:         c.cfg.BackoffMax(),
		}),
		worker.WithMaxAttempts(c.cfg.QueueMaxAttempts),
		worker.WithDropReporter(dropPrinter{out: out}),
	)
}

func (c *cli) handlers() map[model.ActionKind]worker.Handler {
	remote := client.New(c.cfg.ServerURL, c.cfg.ParticipantEmail)
	return map[model.ActionKind]worker.Handler{
		model.ActionRegisterEvent: remote.RegisterEventHandler(),
	}
}

// dropPrinter tells the user about actions that will never be delivered.
type dropPrinter struct {
	out io.Writer
}

func (d dropPrinter) ActionDropped(_ context.Context, action model.QueuedAction, cause error) {
	fmt.Fprintf(d.out, "dropped %s %s after %d attempts: %v\n", action.Kind, action.ID, action.RetryCount, cause)
}
