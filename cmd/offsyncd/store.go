package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/config"
	"github.com/unkn0wn-root/offsync/durable"
	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/syncer"
)

var (
	dumpNamespace string
	dumpCodec     string
)

func init() {
	storeDumpCmd.Flags().StringVarP(&dumpNamespace, "namespace", "n", "", "limit the dump to one namespace")
	storeDumpCmd.Flags().StringVar(&dumpCodec, "codec", "", fmt.Sprintf("decode values with this codec and print them as JSON (one of %v)", codec.Names))
	storeCmd.AddCommand(storeDumpCmd, storeClearNamespaceCmd)
	rootCmd.AddCommand(storeCmd)
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the durable cache store",
}

var storeDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print durable entries with their versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		render := preview
		if dumpCodec != "" {
			if render, err = decodePreview(dumpCodec); err != nil {
				return err
			}
		}
		prefix := ""
		if dumpNamespace != "" {
			if err := store.ValidNamespace(dumpNamespace); err != nil {
				return err
			}
			prefix = store.NamespacePrefix(dumpNamespace)
		}
		be, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = be.Close() }()
		s, err := be.open(ctx, cfg.Store.DBName, cfg.Store.StoreName)
		if err != nil {
			return err
		}
		dm, err := durable.New[[]byte](durable.Options[[]byte]{Store: s, Codec: codec.Bytes{}})
		if err != nil {
			_ = s.Close(ctx)
			return err
		}
		defer func() { _ = dm.Close(ctx) }()
		return dump(ctx, cmd.OutOrStdout(), dm, prefix, render)
	},
}

const maxDumpValue = 120

func dump(ctx context.Context, w io.Writer, dm *durable.Map[[]byte], prefix string, render func([]byte) string) error {
	n := 0
	err := dm.RangeVersions(ctx, prefix, func(key string, v []byte, ver uint64) error {
		n++
		_, err := fmt.Fprintf(w, "%s\tv=%d\t%s\n", key, ver, render(v))
		return err
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d entries\n", n)
	return err
}

func preview(b []byte) string {
	if !utf8.Valid(b) {
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	if len(b) > maxDumpValue {
		return string(b[:maxDumpValue]) + "..."
	}
	return string(b)
}

// decodePreview renders values through a named codec. Values the codec cannot
// read fall back to the raw preview.
func decodePreview(name string) (func([]byte) string, error) {
	c, err := codec.ByName[any](name)
	if err != nil {
		return nil, err
	}
	return func(b []byte) string {
		v, err := c.Decode(b)
		if err != nil {
			return preview(b)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return preview(b)
		}
		return preview(out)
	}, nil
}

var storeClearNamespaceCmd = &cobra.Command{
	Use:   "clear-namespace NAMESPACE",
	Short: "Delete every durable entry of one namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		be, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = be.Close() }()
		return clearNamespace(ctx, cmd.OutOrStdout(), cfg, be.open, args[0])
	},
}

// clearNamespace goes through the sync handler so the CLI deletes exactly what
// a ClearNamespace posted by a cache would.
func clearNamespace(ctx context.Context, w io.Writer, cfg config.Config, open store.Opener, ns string) error {
	h, err := syncer.New(syncer.Options{Open: open})
	if err != nil {
		return err
	}
	defer func() { _ = h.Close(ctx) }()

	t := bridge.Target{DBName: cfg.Store.DBName, StoreName: cfg.Store.StoreName}
	err = h.Apply(ctx, t.ClearNamespace(ns))
	var ae *syncer.ApplyError
	if errors.As(err, &ae) && ae.Total > 0 {
		fmt.Fprintf(w, "deleted %d of %d entries before failing\n", ae.Deleted, ae.Total)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "namespace %q cleared\n", ns)
	return nil
}
