package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/U00A/Mental-univ-sub001/internal/auth"
	"github.com/U00A/Mental-univ-sub001/internal/model"
)

var (
	tokenUserID      string
	tokenDisplayName string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWT.SecretKey == "" {
			return errors.New("JWT_SECRET is not set")
		}

		svc := auth.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
		token, expiresAt, err := svc.GenerateToken(model.Identity{UserID: tokenUserID, DisplayName: tokenDisplayName})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenDisplayName, "name", "", "display name")
	_ = tokenCmd.MarkFlagRequired("user")
}
