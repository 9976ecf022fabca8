package commands

import (
	"fmt"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/cache"
	"github.com/dataresearchcenter/datasets/pkg/config"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/spf13/cobra"
)

// probeID is the entity id of the mark written by cache check.
const probeID = "cache-check"

func init() {
	cacheCmd.AddCommand(cacheCheckCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects the emission cache.",
}

var cacheCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Writes and reads back a probe mark in the configured emission cache.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		backend := cfg.Cache.Backend
		if backend == config.CacheNone {
			fmt.Fprintln(out, "emission cache disabled")
			return nil
		}

		ctx := cmd.Context()
		rt := &runtime{logger: logging.ForDataset(logging.NewLogger("cli"), cfg.Dataset)}
		defer rt.Close()

		rdb, err := rt.connectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		store, err := openStore(ctx, cfg, rdb)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, store.Close)

		key := cache.EntityKey(cfg.Dataset, probeID)
		if err := store.Touch(ctx, key, time.Now()); err != nil {
			return fmt.Errorf("%s cache: mark probe: %w", backend, err)
		}
		ok, err := store.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("%s cache: read probe: %w", backend, err)
		}
		if !ok {
			return fmt.Errorf("%s cache: probe mark not found after write", backend)
		}
		fmt.Fprintf(out, "%s cache ok\n", backend)
		return nil
	},
}
