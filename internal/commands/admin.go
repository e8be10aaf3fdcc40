package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nando3d2000/parking-project-backend/internal/config"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository/postgresql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.StorageDriver != config.StorageDriverPostgres {
			return fmt.Errorf("migrate needs STORAGE_DRIVER=%s, got %q", config.StorageDriverPostgres, cfg.StorageDriver)
		}
		db, err := postgresql.NewDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgresql.EnsureSchema(cmd.Context(), db); err != nil {
			return err
		}
		cmd.Println("schema applied")
		return nil
	},
}

var adminName, adminEmail, adminPassword string

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return createAdmin(cmd, domain.RegisterUserDTO{Name: adminName, Email: adminEmail, Password: adminPassword})
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "Administrator", "display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "login email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "login password (min 6 characters)")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
}

func createAdmin(cmd *cobra.Command, dto domain.RegisterUserDTO) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.services(nil, nil).auth.CreateAdmin(ctx, dto)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	cmd.Printf("created admin #%d <%s>\n", user.ID, user.Email)
	return nil
}
