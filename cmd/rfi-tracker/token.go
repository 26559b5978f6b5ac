package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"rfitracker/internal/handlers"
	"rfitracker/models"

	"github.com/spf13/cobra"
)

var (
	tokenEmail string
	tokenTTL   time.Duration

	userName  string
	userEmail string
	userRole  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a registered user",
	Long: `Issue a signed bearer token for the user with the given email.
The token carries the user's role; admins see the authoritative item state.`,
	RunE: runToken,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage tracker users",
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user",
	RunE:  runUsersAdd,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE:  runUsersList,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("email")

	usersAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "email (required)")
	usersAddCmd.Flags().StringVar(&userRole, "role", string(models.UserRoleUser), "role: admin or user")
	_ = usersAddCmd.MarkFlagRequired("email")

	usersCmd.AddCommand(usersAddCmd, usersListCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenTTL <= 0 {
		return errors.New("ttl must be positive")
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.store.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, tokenEmail) {
			token, exp, err := handlers.GenerateToken(u, a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", exp.Format(time.RFC3339))
			return nil
		}
	}
	return fmt.Errorf("user %s is not registered", tokenEmail)
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	role := models.UserRole(userRole)
	if role != models.UserRoleAdmin && role != models.UserRoleUser {
		return fmt.Errorf("unknown role %q", userRole)
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	u := &models.User{
		DisplayName: strings.TrimSpace(userName),
		Email:       strings.TrimSpace(userEmail),
		Role:        role,
	}
	if err := a.store.CreateUser(cmd.Context(), u); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s)\n", u.ID, u.Email)
	return nil
}

func runUsersList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.store.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Email, u.DisplayName, u.Role)
	}
	return tw.Flush()
}
