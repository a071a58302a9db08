package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgerunner/forgerunner/internal/auth"
	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
)

type tokenOptions struct {
	*rootOptions
	subject string
	role    string
	ttl     int
}

// newTokenCmd mints API bearer tokens. There is no user database: whoever
// can read the JWT secret decides who gets access.
func newTokenCmd(root *rootOptions) *cobra.Command {
	opts := &tokenOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(opts.resolveConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := issueToken(cfg, opts.subject, auth.Role(opts.role), opts.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "", "who the token is for")
	cmd.Flags().StringVar(&opts.role, "role", string(auth.RoleOperator), "viewer, operator or admin")
	cmd.Flags().IntVar(&opts.ttl, "ttl", 0, "lifetime in minutes (default security.jwt.access_token_ttl)")
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag is defined above
	return cmd
}

func issueToken(cfg *config.Config, subject string, role auth.Role, ttl int) (string, error) {
	if cfg.Security.JWT.Secret == "" {
		return "", fmt.Errorf("security.jwt.secret is not set (set FORGERUNNER_JWT_SECRET)")
	}
	if ttl <= 0 {
		ttl = cfg.Security.JWT.AccessTokenTTL
	}
	token, err := auth.GenerateAccessToken(subject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}
