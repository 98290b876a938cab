package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"usrtaskmgt/internal/app"
	"usrtaskmgt/internal/config"
	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/engine/auth"
	"usrtaskmgt/internal/logging"
	"usrtaskmgt/internal/server"
)

func formDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formdata",
		Short: "Inspect or purge staged form data",
		Long:  "Form data is staged per (task definition key, process instance) in the configured storage backend.",
	}
	cmd.AddCommand(formDataGetCmd())
	cmd.AddCommand(formDataPurgeCmd())
	return cmd
}

func formDataGetCmd() *cobra.Command {
	var taskDefKey, processInstance string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show staged form data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fd, ok, err := store.GetFormData(cmd.Context(), taskDefKey, processInstance)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no form data for %s in process instance %s", taskDefKey, processInstance)
			}
			// Tokens stay out of terminal output.
			fd.AccessToken = ""
			return printJSON(fd)
		},
	}
	cmd.Flags().StringVar(&taskDefKey, "task-definition-key", "", "task definition key")
	cmd.Flags().StringVar(&processInstance, "process-instance", "", "process instance id")
	_ = cmd.MarkFlagRequired("task-definition-key")
	_ = cmd.MarkFlagRequired("process-instance")
	return cmd
}

func formDataPurgeCmd() *cobra.Command {
	var processInstance string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all staged form data of a process instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			e := engine.Engine{Store: store, Logger: logger}
			if err := e.DeleteFormData(cmd.Context(), processInstance); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"processInstanceId": processInstance, "status": "purged"})
			}
			fmt.Printf("purged form data of %s\n", processInstance)
			return nil
		},
	}
	cmd.Flags().StringVar(&processInstance, "process-instance", "", "process instance id")
	_ = cmd.MarkFlagRequired("process-instance")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage usrtaskmgt.yml",
		Long:  "Settings come from defaults, then " + config.FileName + " (or --config), then " + config.EnvPrefix + "_* environment variables.",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var workspace string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "directory to write the config into")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			b, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Development tokens"}
	cmd.AddCommand(tokenMintCmd())
	return cmd
}

func tokenMintCmd() *cobra.Command {
	var user string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range roles {
				if r != auth.RoleOfficer && r != auth.RoleCitizen {
					return fmt.Errorf("unknown role %q (want %s)", r, strings.Join(auth.SystemRoles, " or "))
				}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := server.SignToken(cfg.Auth.JWTSecret, user, roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "preferred_username claim")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleOfficer}, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
