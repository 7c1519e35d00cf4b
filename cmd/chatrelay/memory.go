package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/chatrelay/internal/app"
	"github.com/MrWong99/chatrelay/internal/session"
	"github.com/MrWong99/chatrelay/pkg/memory"
)

// keyLister is implemented by stores that can enumerate session keys.
type keyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear stored conversations",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print a user's conversation history as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			return withSession(cmd, user, func(ctx context.Context, s *session.Session) error {
				history, err := s.Read(ctx)
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(memory.State{Memory: history}.Clone(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a user's conversation history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			return withSession(cmd, user, func(ctx context.Context, s *session.Session) error {
				if err := s.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared memory of %s\n", user)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{showCmd, clearCmd} {
		c.Flags().StringP("user", "u", "", "user id (required)")
		_ = c.MarkFlagRequired("user")
	}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List users with stored conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeFn, err := app.OpenStore(cmd.Context(), cfg.Memory)
			if err != nil {
				return err
			}
			defer closeFn()

			lister, ok := store.(keyLister)
			if !ok {
				return errors.New("the configured memory backend cannot list users")
			}
			keys, err := lister.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.AddCommand(showCmd, clearCmd, usersCmd)
	return cmd
}

// withSession opens the configured store and runs fn on the session of user.
func withSession(cmd *cobra.Command, user string, fn func(context.Context, *session.Session) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeFn, err := app.OpenStore(cmd.Context(), cfg.Memory)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(cmd.Context(), session.New(user, store))
}
