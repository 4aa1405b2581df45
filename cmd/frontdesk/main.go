package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "frontdesk",
		Short:        "Hotel and restaurant dashboard with a persistent, self-refreshing staff session",
		SilenceUsage: true,
		PreRunE:      prepareServeConfig,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().String("auth_base_url", "", "Base URL of the auth service (e.g. http://localhost:8081)")
	rootCmd.PersistentFlags().String("session_url", "", "Session storage: memory://, file://PATH, sqlite://PATH, postgres://..., postgres+pgx://...")
	rootCmd.PersistentFlags().Duration("auth_timeout", 10*time.Second, "Timeout applied to every auth service call")
	rootCmd.PersistentFlags().Duration("logout_timeout", 5*time.Second, "Timeout for the best-effort revocation on logout")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log diagnostic output from CLI commands")
	_ = viper.BindPFlag("auth_base_url", rootCmd.PersistentFlags().Lookup("auth_base_url"))
	_ = viper.BindPFlag("session_url", rootCmd.PersistentFlags().Lookup("session_url"))
	_ = viper.BindPFlag("auth_timeout", rootCmd.PersistentFlags().Lookup("auth_timeout"))
	_ = viper.BindPFlag("logout_timeout", rootCmd.PersistentFlags().Lookup("logout_timeout"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	addServeFlags(rootCmd)

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the dashboard web server (default command)",
		PreRunE: prepareServeConfig,
		RunE:    runServe,
	}
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd, newAuthCommand(), newMockAuthCommand())

	viper.SetEnvPrefix("FRONTDESK")
	viper.AutomaticEnv()

	return rootCmd
}

func addServeFlags(command *cobra.Command) {
	command.Flags().String("listen_addr", ":8080", "HTTP listen address")
	command.Flags().String("login_path", "/login", "Path of the login screen")
	command.Flags().String("default_destination", "/dashboard", "Landing path after login")
	command.Flags().Duration("nonce_ttl", 10*time.Minute, "Lifetime of login form nonces")
	command.Flags().StringSlice("cors_allowed_origins", []string{}, "Browser origins allowed to call the JSON session API")
}

// bindServeFlags binds the flags of the command actually running, since both
// the root and serve commands declare them.
func bindServeFlags(command *cobra.Command) {
	for _, name := range []string{"listen_addr", "login_path", "default_destination", "nonce_ttl", "cors_allowed_origins"} {
		if flag := command.Flags().Lookup(name); flag != nil {
			_ = viper.BindPFlag(name, flag)
		}
	}
}
