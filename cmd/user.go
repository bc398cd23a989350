package cmd

import (
	"context"
	"fmt"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/auth"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/database"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long: `Manage DataDiscoveryServer user accounts directly against storage.

Use this to bootstrap the first admin account before the HTTP API has any
users to authenticate:

  datadiscovery user create admin --role admin
  datadiscovery user list`,
}

var userRole string

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create or overwrite a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGate(func(ctx context.Context, gate *auth.Gate) error {
			role := types.Role(userRole)
			if !role.Valid() {
				return fmt.Errorf("invalid role %q: must be admin or user", userRole)
			}

			password, err := promptPassword(fmt.Sprintf("Password for %s: ", args[0]))
			if err != nil {
				return err
			}

			if err := gate.CreateUser(ctx, args[0], password, role); err != nil {
				return err
			}
			color.Green("✓ User %s created with role %s\n", args[0], role)
			return nil
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGate(func(ctx context.Context, gate *auth.Gate) error {
			if err := gate.DeleteUser(ctx, args[0]); err != nil {
				return err
			}
			color.Green("✓ User %s deleted\n", args[0])
			return nil
		})
	},
}

var userResetCmd = &cobra.Command{
	Use:   "reset <username>",
	Short: "Reset a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGate(func(ctx context.Context, gate *auth.Gate) error {
			password, err := promptPassword(fmt.Sprintf("New password for %s: ", args[0]))
			if err != nil {
				return err
			}

			if err := gate.AdminResetPassword(ctx, args[0], password); err != nil {
				return err
			}
			color.Green("✓ Password for %s updated\n", args[0])
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts and roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGate(func(ctx context.Context, gate *auth.Gate) error {
			users, err := gate.ListUsers(ctx)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				color.Yellow("No users found. Create one with: datadiscovery user create <username>\n")
				return nil
			}

			admin := color.New(color.FgRed, color.Bold).SprintFunc()
			for _, u := range users {
				role := string(u.Role)
				if u.Role == types.RoleAdmin {
					role = admin(role)
				}
				fmt.Printf("%-24s %s\n", u.Username, role)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userDeleteCmd, userResetCmd, userListCmd)

	userCreateCmd.Flags().StringVar(&userRole, "role", "user", "role for the account (admin, user)")
}

// withGate opens the pool, runs fn against a fresh access gate, and shuts
// the pool down again. Used by the one-shot user subcommands.
func withGate(fn func(context.Context, *auth.Gate) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	log = log.WithComponent("user-cli")

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer pool.Shutdown()

	users := database.NewUserStore(pool, log)
	return fn(ctx, auth.NewGate(users, cfg.Security.IngestAPIKey, log))
}

// promptPassword reads a password without echoing it.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}
