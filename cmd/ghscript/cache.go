package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/ghscript/internal/config"
	"github.com/alekspetrov/ghscript/internal/github"
	"github.com/alekspetrov/ghscript/internal/history"
	"github.com/alekspetrov/ghscript/internal/logging"
	"github.com/alekspetrov/ghscript/internal/metadata"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the metadata cache",
	}
	cmd.AddCommand(newCacheShowCmd(), newCacheRefreshCmd(), newCacheClearCmd())
	return cmd
}

// buildCache wires a metadata cache from config for the cache commands.
func buildCache(cmd *cobra.Command) (*metadata.Cache, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, nil, err
	}
	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, nil, err
	}
	maxAge, err := cfg.Cache.MaxAgeDuration()
	if err != nil {
		return nil, nil, err
	}
	cache := metadata.New(github.NewClient(token), metadata.Options{
		Owner:         cfg.Repository.Owner,
		Repo:          cfg.Repository.Name,
		ProjectID:     cfg.Project.ID,
		ProjectNumber: cfg.Project.Number,
		ProjectTitle:  cfg.Project.Title,
		Dir:           cfg.Cache.Dir,
		MaxAge:        maxAge,
	})
	return cache, cfg, nil
}

func newCacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved metadata snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, _, err := buildCache(cmd)
			if err != nil {
				return err
			}
			snap, err := cache.Resolve(cmd.Context(), false)
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
}

func newCacheRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Discard the cached snapshot and resolve fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, cfg, err := buildCache(cmd)
			if err != nil {
				return err
			}
			snap, err := cache.Resolve(cmd.Context(), true)
			if err != nil {
				return err
			}
			fmt.Printf("Refreshed metadata for %s/%s: %d labels, %d milestones, %d issue types\n",
				cfg.Repository.Owner, cfg.Repository.Name,
				len(snap.Labels), len(snap.Milestones), len(snap.IssueTypes))
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted cache record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cache := metadata.New(nil, metadata.Options{
				Owner: cfg.Repository.Owner,
				Repo:  cfg.Repository.Name,
				Dir:   cfg.Cache.Dir,
			})
			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Println("Cache cleared")
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent script executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := history.NewStore(cfg.History.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			execs, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Println("No executions recorded")
				return nil
			}
			for _, e := range execs {
				line := fmt.Sprintf("%s  %s  %s  %dms",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.ID[:8], e.Outcome, e.DurationMS)
				if e.Error != "" {
					line += "  " + e.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum executions to list")
	return cmd
}
