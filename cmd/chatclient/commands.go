package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"construction_chat/internal/client"
	"construction_chat/pkg/jwt"
)

func newTokenCommand() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token signed with auth.secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Auth.Secret == "" {
				return errors.New("auth.secret is not set")
			}
			userID := uuid.New()
			if user != "" {
				var err error
				if userID, err = uuid.Parse(user); err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
			}
			token, err := jwt.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "user %s\n", userID)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations with unread counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _, err := cfg.identity()
			if err != nil {
				return err
			}
			convs, err := newAPIClient(token).ListConversations(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, c := range convs {
				title := string(c.Kind)
				switch {
				case c.Name != nil:
					title = *c.Name
				case c.PeerID != nil:
					title = "@" + shortID(*c.PeerID)
				}
				pin := " "
				if c.Pinned {
					pin = "*"
				}
				preview := ""
				if c.LastMessagePreview != nil {
					preview = *c.LastMessagePreview
				}
				fmt.Fprintf(out, "%s %s %-20s %3d  %s\n", pin, c.ID, title, c.UnreadCount, preview)
			}
			return nil
		},
	}
}

func newSendCommand() *cobra.Command {
	var (
		to          string
		attachments []string
	)
	cmd := &cobra.Command{
		Use:   "send [conversation-id] message...",
		Short: "Send a message to a conversation, or to a user with --to",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _, err := cfg.identity()
			if err != nil {
				return err
			}
			api := newAPIClient(token)

			uploads, err := readUploads(attachments)
			if err != nil {
				return err
			}

			var msgID uuid.UUID
			if to != "" {
				peerID, err := uuid.Parse(to)
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				m, err := api.SendDirect(cmd.Context(), peerID, strings.Join(args, " "), uploads)
				if err != nil {
					return err
				}
				msgID = m.ID
				fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s\n", m.ConversationID)
			} else {
				if len(args) == 0 {
					return errors.New("conversation id required without --to")
				}
				convID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid conversation id: %w", err)
				}
				m, err := api.Send(cmd.Context(), convID, strings.Join(args[1:], " "), uploads)
				if err != nil {
					return err
				}
				msgID = m.ID
			}
			fmt.Fprintln(cmd.OutOrStdout(), msgID)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient user id")
	cmd.Flags().StringArrayVarP(&attachments, "attach", "a", nil, "file to attach (repeatable)")
	return cmd
}

func readUploads(paths []string) ([]client.Upload, error) {
	uploads := make([]client.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, client.Upload{Name: filepath.Base(p), Data: data})
	}
	return uploads, nil
}

func paginationOptions() client.PaginationOptions {
	opts := client.DefaultPaginationOptions()
	opts.PageSize = cfg.View.PageSize
	opts.Cursor = cfg.View.Cursor
	// One row per message, so start fetching once the top row is reached.
	opts.TopThreshold = 1
	return opts
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history conversation-id",
		Short: "Print the whole history of a conversation, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, selfID, err := cfg.identity()
			if err != nil {
				return err
			}
			convID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id: %w", err)
			}

			log := newLogger()
			api := newAPIClient(token)
			view := newTerminalView(cmd.OutOrStdout(), selfID, cfg.View.Rows, false)
			engine := client.NewReconciliationEngine(convID, selfID, api, view, client.EngineOptions{Debounce: cfg.View.Debounce}, log)
			defer engine.Close()

			pages := client.NewPaginationController(api, engine, view, paginationOptions(), log)
			if err := pages.Open(cmd.Context()); err != nil {
				return err
			}
			// Scroll down and back to the top until history runs out.
			for pages.HasMore() {
				_, _ = pages.OnScroll(cmd.Context(), view.ScrollHeight())
				loaded, err := pages.OnScroll(cmd.Context(), 0)
				if err != nil {
					return err
				}
				if !loaded {
					break
				}
			}
			view.dump()
			return nil
		},
	}
}
