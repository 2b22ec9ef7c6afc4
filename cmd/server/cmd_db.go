package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/metrics"
	sqliteRepo "github.com/sakif/catalog/internal/repository/sqlite"
	"github.com/sakif/catalog/internal/service"
)

// server migrate
//
// Opening the database applies pending migrations, so this command only has
// to open it and report where the schema stands.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := boot()
		if err != nil {
			return err
		}

		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		versions, err := db.Versions(cmd.Context())
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
		}
		return nil
	},
}

var (
	adminUsername string
	adminPassword string
)

// server create-admin --username alice --password s3cret
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator, or promote an existing user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if adminUsername == "" || adminPassword == "" {
			return errors.New("--username and --password are required")
		}

		cfg, logger, err := boot()
		if err != nil {
			return err
		}

		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
		if err != nil {
			return err
		}
		users := service.NewAuthService(db, auth.NewPasswordService(), tokens, metrics.New(nil), logger)

		user, err := users.CreateAdmin(cmd.Context(), adminUsername, adminPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "admin %s ready (id %s)\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminUsername, "username", "", "admin username")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password")
}
