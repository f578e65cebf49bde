package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/offsync"
	"github.com/unkn0wn-root/offsync/config"
	"github.com/unkn0wn-root/offsync/replay"
)

var queueJSON bool

func init() {
	queueListCmd.Flags().BoolVar(&queueJSON, "json", false, "print one JSON object per request")
	queueCmd.AddCommand(queueListCmd, queueReplayCmd, queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drive the request replay queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued requests, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(cfg config.Config, q *replay.Queue) error {
			reqs, err := q.All(cmd.Context())
			if err != nil {
				return err
			}
			return printRequests(cmd.OutOrStdout(), reqs, time.Now(), queueJSON)
		})
	},
}

var queueReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run one replay cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(cfg config.Config, q *replay.Queue) error {
			r, err := replay.NewReplayer(replay.ReplayerOptions{
				Queue:     q,
				Sender:    &replay.HTTPSender{FailOn5xx: cfg.Replay.FailOn5xx},
				Retention: cfg.Replay.Retention.Duration,
			})
			if err != nil {
				return err
			}
			res, err := r.Replay(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, dropped %d, pending %d\n", res.Replayed, res.Dropped, res.Pending)
			if res.Halted {
				fmt.Fprintf(cmd.OutOrStdout(), "halted: %v\n", res.LastErr)
			}
			return nil
		})
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every queued request",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(_ config.Config, q *replay.Queue) error {
			n, err := q.Len(cmd.Context())
			if err != nil {
				return err
			}
			if err := q.Purge(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d requests\n", n)
			return nil
		})
	},
}

func withQueue(ctx context.Context, fn func(config.Config, *replay.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close() }()

	s, err := be.open(ctx, cfg.Store.DBName, offsync.DefaultQueueStoreName)
	if err != nil {
		return err
	}
	q, err := replay.NewQueue(replay.QueueOptions{Store: s, Name: cfg.Replay.QueueName})
	if err != nil {
		_ = s.Close(ctx)
		return err
	}
	defer func() { _ = q.Close(ctx) }()
	return fn(cfg, q)
}

func printRequests(w io.Writer, reqs []replay.Request, now time.Time, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, r := range reqs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tURL\tAGE\tBYTES")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Method, r.URL, r.Age(now).Truncate(time.Second), len(r.Body))
	}
	return tw.Flush()
}
