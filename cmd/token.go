package cmd

import (
	"fmt"
	"time"

	"github.com/Abdull600/study-circle-voice/config"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/handlers/auth"
	"github.com/spf13/cobra"
)

var (
	tokenName string
	tokenTTL  time.Duration
)

// Sign-in lives outside this service. The token command issues a token the
// same way the identity provider would, for development and scripts.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an access token for a user id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		auth.InitAuth(cfg.JWTSecret)

		token, err := auth.CreateJWT(core.Identity{ID: args[0], DisplayName: tokenName}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
