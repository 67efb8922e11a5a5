package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"construction_chat/internal/client"
	"construction_chat/internal/domain"
)

const watchHelp = `lines are sent as messages; commands:
  /older            load the previous page
  /retry <tmp-id>   resend a failed message
  /discard <tmp-id> drop a failed message
  /quit`

func newWatchCommand() *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "watch [conversation-id]",
		Short: "Open a conversation live and send lines typed on stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, selfID, err := cfg.identity()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			log := newLogger()
			api := newAPIClient(token)

			convID, err := resolveConversation(ctx, api, args, peer)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			session := client.NewSession(api, client.DefaultPushOptions(cfg.pushURL(), token), selfID, log)
			session.OnListChange = func(change domain.ConversationChanged) {
				if change.ConversationID != convID && change.Reason == domain.ChangeReasonMessage {
					fmt.Fprintf(out, "* new message in %s\n", change.ConversationID)
				}
			}

			runErr := make(chan error, 1)
			go func() { runErr <- session.Run(ctx) }()

			view := newTerminalView(out, selfID, cfg.View.Rows, true)
			convView, err := session.OpenConversation(ctx, convID, view, view, client.EngineOptions{Debounce: cfg.View.Debounce}, paginationOptions())
			if err != nil {
				stop()
				<-runErr
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), watchHelp)

			readPrompt(ctx, cmd.InOrStdin(), out, convView, view, stop)

			convView.Close()
			stop()
			return <-runErr
		},
	}
	cmd.Flags().StringVar(&peer, "with", "", "open the direct conversation with this user id")
	return cmd
}

func resolveConversation(ctx context.Context, api *client.APIClient, args []string, peer string) (uuid.UUID, error) {
	if peer != "" {
		peerID, err := uuid.Parse(peer)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid user id: %w", err)
		}
		conv, err := api.GetOrCreateDirect(ctx, peerID)
		if err != nil {
			return uuid.Nil, err
		}
		return conv.ID, nil
	}
	if len(args) == 0 {
		return uuid.Nil, fmt.Errorf("conversation id or --with is required")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	return id, nil
}

// readPrompt consumes stdin until EOF, /quit, or ctx is done.
func readPrompt(ctx context.Context, in io.Reader, out io.Writer, cv *client.ConversationView, view *terminalView, stop context.CancelFunc) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			stop()
			return
		case "/older":
			_, _ = cv.Pages.OnScroll(ctx, view.ScrollHeight())
			loaded, err := cv.Pages.OnScroll(ctx, 0)
			switch {
			case err != nil:
				fmt.Fprintf(out, "! %v\n", err)
			case !loaded:
				fmt.Fprintln(out, "! no older messages")
			}
		case "/retry":
			done, err := cv.Engine.Retry(ctx, arg)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			go reportSend(out, done)
		case "/discard":
			if err := cv.Engine.Discard(arg); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		default:
			_, done := cv.Engine.Submit(ctx, line, nil)
			go reportSend(out, done)
		}
	}
}

func reportSend(out io.Writer, done <-chan error) {
	if err := <-done; err != nil {
		fmt.Fprintf(out, "! send failed: %v\n", err)
	}
}
