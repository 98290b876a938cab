package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"usrtaskmgt/internal/config"
	usrtaskmgtsdk "usrtaskmgt/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "utm",
	Short: "User task management CLI",
	Long: `utm fronts a workflow engine's user tasks for officers and citizens.
- serve: run the HTTP API (list, claim, complete and sign tasks).
- task: call a running server with a bearer token.
- formdata: inspect or purge staged form data in the configured store.
- config: generate, show and validate usrtaskmgt.yml.
- token: mint local HS256 tokens for development.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./"+config.FileName+")")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080/api", "API base URL for task commands")
	rootCmd.PersistentFlags().String("token", "", "bearer token for task commands")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(formDataCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"))
}

func apiClient() *usrtaskmgtsdk.Client {
	return usrtaskmgtsdk.New(viper.GetString("server"), viper.GetString("token"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
