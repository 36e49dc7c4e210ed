// Command admin bundles operational tasks: schema migration, database
// seeding, and promoting accounts to site roles.
package main

import (
	"fmt"
	"os"

	"github.com/commune-hq/backend/internal/database"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/seed"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Commune admin tool - migrations, seeding, and account management",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if err := logger.Initialize(os.Getenv("LOG_LEVEL"), ""); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := database.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = database.Close()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Migrate(); err != nil {
			return err
		}
		fmt.Println("migrations complete")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with development data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Migrate(); err != nil {
			return err
		}

		seeder := seed.NewSeeder(database.DB)
		testOnly, _ := cmd.Flags().GetBool("test")
		if testOnly {
			if err := seeder.SeedTest(); err != nil {
				return err
			}
			fmt.Println("test fixtures seeded")
			return nil
		}
		if err := seeder.SeedDev(); err != nil {
			return err
		}
		fmt.Println("development data seeded")
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <email>",
	Short: "Grant or revoke site-wide roles on an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]
		role, _ := cmd.Flags().GetString("role")
		switch models.Role(role) {
		case models.RoleUser, models.RoleModerator, models.RoleAdmin:
		default:
			return fmt.Errorf("invalid role %q, expected user, moderator, or admin", role)
		}

		var user models.User
		if err := database.DB.Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
			return fmt.Errorf("user %s not found", email)
		}

		if err := database.DB.Model(&user).Update("role", role).Error; err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		fmt.Printf("%s is now %s\n", user.Username, role)
		return nil
	},
}

func init() {
	seedCmd.Flags().Bool("test", false, "seed only the fixed test accounts")
	promoteCmd.Flags().String("role", "admin", "role to grant: user, moderator, or admin")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(promoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
