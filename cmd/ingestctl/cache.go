package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/config"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
)

var (
	cacheDataType string
	cacheOlderFor time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the on-disk describe/enrich cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached entries older than a given age",
	Long: `Deletes cache entries by data type and age, forcing the next run to
re-fetch them from the tenant CLI regardless of Progress Store state.

  ingestctl cache clear --type describe --older-than 720h`,
	RunE: runCacheClear,
}

func init() {
	cacheClearCmd.Flags().StringVar(&cacheDataType, "type", "",
		"Only clear entries with this data type (default: all types)")
	cacheClearCmd.Flags().DurationVar(&cacheOlderFor, "older-than", 0,
		"Only clear entries older than this duration (default: all ages)")
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := ingestlog.New(ingestlog.Config{Component: "ingestctl.cache"})

	store, err := cachestore.New(cachestore.Config{
		Dir:      cfg.Cache.Dir,
		MaxAge:   cfg.Cache.MaxAge,
		Compress: cfg.Cache.Compress,
	}, logger)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}

	n, err := store.Clear(cacheDataType, cacheOlderFor)
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	logger.Info("cache cleared", "removed", n, "data_type", cacheDataType, "older_than", cacheOlderFor.String())
	return nil
}
