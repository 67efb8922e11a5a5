package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"construction_chat/pkg/jwt"
)

type clientConfig struct {
	Server struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"server"`
	Auth struct {
		Token  string `mapstructure:"token"`
		Secret string `mapstructure:"secret"`
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"auth"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	View struct {
		Rows     int           `mapstructure:"rows"`
		PageSize int           `mapstructure:"page_size"`
		Cursor   bool          `mapstructure:"cursor"`
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"view"`
}

var cfg clientConfig

// loadConfig reads ./chatclient.yaml or $HOME/.config/chatclient/chatclient.yaml,
// then CHATCLIENT_* variables (CHATCLIENT_SERVER_URL, CHATCLIENT_AUTH_TOKEN, ...).
func loadConfig(path string) error {
	viper.SetDefault("server.url", "http://localhost:8080")
	viper.SetDefault("server.timeout", 30*time.Second)
	viper.SetDefault("auth.issuer", "construction-chat")
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("view.rows", 24)
	viper.SetDefault("view.page_size", 50)
	viper.SetDefault("view.debounce", 40*time.Millisecond)

	viper.SetEnvPrefix("CHATCLIENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("chatclient")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chatclient")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// identity returns the configured token and the user it names.
func (c *clientConfig) identity() (string, uuid.UUID, error) {
	if c.Auth.Token == "" {
		return "", uuid.Nil, errors.New("no token configured; set auth.token or CHATCLIENT_AUTH_TOKEN (see `chatclient token`)")
	}
	userID, err := jwt.UnverifiedUserID(c.Auth.Token)
	if err != nil {
		return "", uuid.Nil, err
	}
	return c.Auth.Token, userID, nil
}

// pushURL derives the socket endpoint from the REST base URL.
func (c *clientConfig) pushURL() string {
	base := strings.TrimSuffix(c.Server.URL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
