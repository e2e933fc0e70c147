package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bageldb/libraries/cmd/bagel/commands"
	"github.com/bageldb/libraries/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bagel",
		Short: "BagelDB CLI",
		Long: `A command-line interface for BagelDB.

It logs users in, keeps their session refreshed, reads content and streams
live changes, optionally relaying them to NATS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.bagel/config.yml)")
	flags.StringP("api-token", "t", "", "project API token")
	flags.String("context", "browser", "execution context (browser, react-native, server)")
	flags.String("content-endpoint", "", "content API URL")
	flags.String("auth-endpoint", "", "auth service URL")
	flags.String("live-endpoint", "", "live stream URL")
	flags.String("credentials", "", "session file (default is $HOME/.bagel/credentials.yml)")
	flags.String("nats-url", "", "NATS server URL for relaying and shared sessions")
	flags.String("session-bucket", "", "keep the session in this NATS key-value bucket instead of a file")
	flags.String("session-redis", "", "keep the session in Redis at this URL instead of a file")
	flags.String("session-namespace", "", "key prefix inside the session bucket or Redis hash")
	flags.StringP("output", "o", "table", "output format (table, json, yaml)")
	flags.BoolP("verbose", "v", false, "verbose output")

	for _, name := range []string{
		"config", "api-token", "context", "content-endpoint", "auth-endpoint", "live-endpoint",
		"credentials", "nats-url", "session-bucket", "session-redis", "session-namespace", "output", "verbose",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, date))
	rootCmd.AddCommand(commands.NewLoginCommand())
	rootCmd.AddCommand(commands.NewSignupCommand())
	rootCmd.AddCommand(commands.NewLogoutCommand())
	rootCmd.AddCommand(commands.NewOTPCommand())
	rootCmd.AddCommand(commands.NewWhoAmICommand())
	rootCmd.AddCommand(commands.NewTokenCommand())
	rootCmd.AddCommand(commands.NewResetPasswordCommand())
	rootCmd.AddCommand(commands.NewUpdatePasswordCommand())
	rootCmd.AddCommand(commands.NewGetCommand())
	rootCmd.AddCommand(commands.NewListenCommand())

	return rootCmd
}

func initConfig() {
	cfgFile := viper.GetString("config")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, constants.ConfigDirName)

		// Search config in ~/.bagel/config.yml
		viper.AddConfigPath(configDir)
		viper.SetConfigType("yml")
		viper.SetConfigName("config")
	}

	// BAGEL_API_TOKEN, BAGEL_CONTENT_ENDPOINT, ...
	viper.SetEnvPrefix("BAGEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func main() {
	cobra.OnInitialize(initConfig)

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
