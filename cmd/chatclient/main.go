package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"construction_chat/internal/client"
	"construction_chat/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "chatclient",
		Short:         "Terminal client for the construction chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(configPath)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./chatclient.yaml)")
	flags.String("server", "", "server base URL")
	flags.String("token", "", "bearer token")
	flags.String("log-level", "", "log level")
	_ = viper.BindPFlag("server.url", flags.Lookup("server"))
	_ = viper.BindPFlag("auth.token", flags.Lookup("token"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		newTokenCommand(),
		newListCommand(),
		newSendCommand(),
		newHistoryCommand(),
		newWatchCommand(),
	)
	return root
}

func newLogger() logger.Logger {
	return logger.NewWithOptions(cfg.Log.Level, "text", os.Stderr)
}

func newAPIClient(token string) *client.APIClient {
	return client.NewAPIClient(cfg.Server.URL, token, nil)
}

// signalContext is cancelled on Ctrl-C.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
