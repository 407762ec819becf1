package main

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed reference data",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openAppEnv()
			if err != nil {
				return err
			}
			defer cleanup()
			env.logger.Info("database migrated", zap.String("driver", env.config.DatabaseDriver))
			return nil
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute reply counts and message totals from stored messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openAppEnv()
			if err != nil {
				return err
			}
			defer cleanup()
			engine, err := reputation.NewEngine(reputation.EngineConfig{Database: env.db, Logger: env.logger})
			if err != nil {
				return err
			}
			report, err := engine.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage StudyHall accounts",
	}

	var request users.NewUser
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openAppEnv()
			if err != nil {
				return err
			}
			defer cleanup()
			service, err := users.NewService(users.ServiceConfig{Database: env.db, Logger: env.logger})
			if err != nil {
				return err
			}
			user, err := service.CreateUser(cmd.Context(), request)
			if err != nil {
				return err
			}
			return printJSON(cmd, user)
		},
	}
	addCmd.Flags().StringVar(&request.Username, "username", "", "Unique username")
	addCmd.Flags().StringVar(&request.Email, "email", "", "Unique email address")
	addCmd.Flags().StringVar(&request.DisplayName, "display-name", "", "Display name")
	_ = addCmd.MarkFlagRequired("username")
	_ = addCmd.MarkFlagRequired("email")

	usersCmd.AddCommand(addCmd)
	return usersCmd
}

func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Access token utilities",
	}

	var userID string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openAppEnv()
			if err != nil {
				return err
			}
			defer cleanup()
			service, err := users.NewService(users.ServiceConfig{Database: env.db, Logger: env.logger})
			if err != nil {
				return err
			}
			user, err := service.GetUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(env.config)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), auth.Identity{
				UserID:      user.ID,
				Username:    user.Username,
				Email:       user.Email,
				DisplayName: user.DisplayName,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"access_token": token, "token_type": "Bearer", "expires_in": expiresIn})
		},
	}
	issueCmd.Flags().StringVar(&userID, "user-id", "", "Account identifier")
	_ = issueCmd.MarkFlagRequired("user-id")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

func printJSON(cmd *cobra.Command, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return err
}
