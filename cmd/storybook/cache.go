package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"storybook-service/internal/cache"
	"storybook-service/internal/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := diskStoreFromConfig(configPath)
			if err != nil {
				return err
			}
			stats, err := store.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("Directory: %s\nEntries:   %d\nBytes:     %d\nExpired:   %d\n",
				stats.Dir, stats.Entries, stats.TotalBytes, stats.Expired)
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := diskStoreFromConfig(configPath)
			if err != nil {
				return err
			}
			removed, err := store.Sweep(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired entries.\n", removed)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "storybook.yaml", "path to config file")
	cmd.AddCommand(statsCmd, sweepCmd)
	return cmd
}

func diskStoreFromConfig(configPath string) (*cache.DiskStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Backend != "disk" && cfg.Cache.Backend != "" {
		return nil, fmt.Errorf("cache commands only support the disk backend, configured backend is %q", cfg.Cache.Backend)
	}
	return cache.NewDiskStore(cfg.Cache.Dir, cfg.Cache.MaxAge())
}
