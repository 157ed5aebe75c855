package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Laboratorynotices/listsmart/internal/config"
	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/docstore/backend"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

// env supplies the backends commands act on. Tests swap in local ones.
type env struct {
	openStore       func(ctx context.Context) (docstore.Store, error)
	openRevocations func(ctx context.Context) (identity.RevocationStore, func() error, error)
	now             func() time.Time
}

// defaultEnv reads the server's environment. Hosted identity and S3 settings
// are not needed here, so their validation is skipped.
func defaultEnv() env {
	load := func() (*config.Config, error) {
		return config.LoadConfig(config.Flags{NoIDP: true, NoS3: true})
	}
	return env{
		openStore: func(ctx context.Context) (docstore.Store, error) {
			cfg, err := load()
			if err != nil {
				return nil, err
			}
			return backend.Open(ctx, cfg)
		},
		openRevocations: func(ctx context.Context) (identity.RevocationStore, func() error, error) {
			cfg, err := load()
			if err != nil {
				return nil, nil, err
			}
			if cfg.RedisURL == "" {
				return nil, nil, errors.New("REDIS_URL is not set; without Redis revocations only live inside the server process")
			}
			store, err := identity.NewRedisRevocations(ctx, cfg.RedisURL, identity.MaxSessionTTL)
			if err != nil {
				return nil, nil, err
			}
			return store, store.Close, nil
		},
		now: time.Now,
	}
}

func newRootCmd(e env) *cobra.Command {
	root := &cobra.Command{
		Use:   "listsmartctl",
		Short: "listsmart operator tools",
		Long: `listsmartctl manages a listsmart deployment. It reads the same
environment as the server (DOCSTORE, DATABASE_PATH, DATABASE_URL,
MASTER_KEY, REDIS_URL).

Examples:
  # Sign a user out everywhere
  listsmartctl revoke 3fJk9...

  # Dump a user's list as JSON
  listsmartctl items list 3fJk9... --output json`,
		SilenceUsage: true,
	}
	root.AddCommand(newRevokeCmd(e), newItemsCmd(e))
	return root
}

func newRevokeCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <uid>",
		Short: "Revoke every session of a user issued before now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := strings.TrimSpace(args[0])
			if uid == "" {
				return errors.New("uid is required")
			}
			store, closeFn, err := e.openRevocations(cmd.Context())
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			at := e.now()
			if err := store.Revoke(cmd.Context(), uid, at); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked sessions of %s issued before %s\n", uid, at.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func newItemsCmd(e env) *cobra.Command {
	items := &cobra.Command{
		Use:   "items",
		Short: "Inspect or tidy a user's shopping list",
	}

	var output string
	list := &cobra.Command{
		Use:   "list <uid>",
		Short: "Print a user's shopping list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), e, args[0], func(store *shopping.Store) error {
				return writeItems(cmd.OutOrStdout(), output, store.Items())
			})
		},
	}
	list.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml|json")

	clearCmd := &cobra.Command{
		Use:   "clear-completed <uid>",
		Short: "Delete every item marked as bought",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), e, args[0], func(store *shopping.Store) error {
				before := store.TotalItems()
				err := store.ClearCompleted(cmd.Context())
				remaining := store.TotalItems()
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d, %d remaining\n", before-remaining, remaining)
				return err
			})
		},
	}

	items.AddCommand(list, clearCmd)
	return items
}

// withStore loads uid's list and runs fn on it.
func withStore(ctx context.Context, e env, uid string, fn func(*shopping.Store) error) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return errors.New("uid is required")
	}
	docs, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer docs.Close()

	store := shopping.NewStore(shopping.NewDocRepository(docs), uid, shopping.WithClock(e.now))
	if err := store.RefreshFromRemote(ctx); err != nil {
		return err
	}
	return fn(store)
}

func writeItems(w io.Writer, format string, items []shopping.Item) error {
	if items == nil {
		items = []shopping.Item{}
	}
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(items); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}
