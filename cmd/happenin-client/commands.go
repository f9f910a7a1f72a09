package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/happenin/internal/adapters/mq/offlinequeue"
	"github.com/okian/happenin/internal/adapters/mq/worker"
	"github.com/okian/happenin/internal/domain/model"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		intent  model.RegistrationIntent
		members []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue-registration",
		Short: "Queue a gateway-confirmed registration for later delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, m := range members {
				member, err := parseMember(m)
				if err != nil {
					return err
				}
				intent.Members = append(intent.Members, member)
			}
			intent.TeamSize = len(intent.Members)

			q, err := c.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer q.Close()

			action, err := q.EnqueueRegistration(cmd.Context(), intent)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s\n", action.Kind, action.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&intent.GatewayOrderRef, "order", "", "gateway order reference")
	f.StringVar(&intent.GatewayPaymentRef, "payment", "", "gateway payment reference")
	f.StringVar(&intent.Signature, "signature", "", "gateway signature of order|payment")
	f.StringVar(&intent.EventID, "event", "", "event id")
	f.StringArrayVarP(&members, "member", "m", nil, "team member as email or email:Full Name; lead first (repeatable)")
	for _, name := range []string{"order", "payment", "signature", "event"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func parseMember(v string) (model.Member, error) {
	email, name, _ := strings.Cut(v, ":")
	email = strings.TrimSpace(email)
	if email == "" {
		return model.Member{}, fmt.Errorf("member %q: email is required", v)
	}
	return model.Member{Email: email, FullName: strings.TrimSpace(name)}, nil
}

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear the offline queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued actions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer q.Close()

			actions, err := q.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tCREATED\tRETRIES")
			for _, a := range actions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", a.ID, a.Kind, a.CreatedAt.Format(time.RFC3339), a.RetryCount)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Show the registration the next replay delivers first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer q.Close()

			intent, err := q.PendingRegistration(cmd.Context())
			if errors.Is(err, offlinequeue.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no registration queued")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event=%s order=%s members=%d\n",
				intent.EventID, intent.GatewayOrderRef, len(intent.Members))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every queued action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer q.Close()

			n, err := q.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d actions\n", n)
			return nil
		},
	})
	return cmd
}

func (c *cli) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Deliver queued actions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer q.Close()

			out := cmd.OutOrStdout()
			sum, err := c.replayer(q, out).ReplayAll(cmd.Context(), c.handlers())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "delivered=%d retained=%d dropped=%d unhandled=%d remaining=%d\n",
				sum.Delivered, sum.Retained, sum.Dropped, sum.Unhandled, sum.Remaining)
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Probe the server and replay the queue whenever it comes back online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			q, err := c.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			prober := worker.NewProber(c.cfg.ServerURL,
				worker.WithProbeInterval(c.cfg.ProbeInterval()),
				worker.WithProbeTimeout(c.cfg.ProbeTimeout()),
				worker.WithProberLogger(c.log.Named("prober")),
			)
			r := c.replayer(q, cmd.OutOrStdout())
			handlers := c.handlers()

			online := make(chan struct{}, 1)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				prober.Run(gctx, online)
				return nil
			})
			g.Go(func() error {
				r.Run(gctx, online, handlers)
				return nil
			})
			c.log.Info(ctx, "watching for connectivity")
			return g.Wait()
		},
	}
}
