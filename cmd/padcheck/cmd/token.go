package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aidin1998/padcheck/internal/auth"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue bearer tokens for the rule management API",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a token with the configured secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		srv := cfgManager.Get().Server
		if srv.JWTSecret == "" {
			return errors.New("server.jwt_secret is not configured")
		}
		if tokenSubject == "" {
			return errors.New("missing --subject")
		}
		token, err := auth.NewVerifier(srv.JWTSecret, srv.JWTIssuer).Issue(tokenSubject, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "token subject, recorded as the rule author")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", auth.RoleRulesAdmin, "role claim")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
