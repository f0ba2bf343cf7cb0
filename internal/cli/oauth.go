package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	oauthState string
	oauthCode  string
)

var oauthCmd = &cobra.Command{
	Use:   "oauth",
	Short: "Manage the agent's OAuth2 grant",
	Long: `Manage the OAuth2 grant used when auth_mode is oauth2.

Grant access once with "oauth url", approve it in a browser, then store the
resulting token with "oauth exchange". Later runs refresh it automatically.`,
}

var oauthURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the authorization URL to approve in a browser",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateOAuth2(); err != nil {
			return err
		}
		state := oauthState
		if state == "" {
			state = uuid.NewString()
		}
		p, closeFn, err := newOAuth2Provider(cmd.Context(), cfg, newHTTPClient(cfg), nil, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		fmt.Fprintln(cmd.OutOrStdout(), p.AuthCodeURL(state))
		return nil
	},
}

var oauthExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Trade an authorization code for a stored refresh token",
	Long: `Trade the authorization code returned to the redirect URL for a token
and save it in the configured token store.

Examples:
  sync-agent oauth exchange --code 4/0AbCdEf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if oauthCode == "" {
			return fmt.Errorf("--code is required")
		}
		if err := cfg.ValidateOAuth2(); err != nil {
			return err
		}
		p, closeFn, err := newOAuth2Provider(cmd.Context(), cfg, newHTTPClient(cfg), nil, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		tok, err := p.Exchange(cmd.Context(), oauthCode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token stored (access token expires %s).\n", tok.Expiry.Format(time.RFC3339))
		return nil
	},
}

func init() {
	oauthURLCmd.Flags().StringVar(&oauthState, "state", "", "opaque state echoed to the redirect URL (default random)")
	oauthExchangeCmd.Flags().StringVar(&oauthCode, "code", "", "authorization code from the redirect")

	oauthCmd.AddCommand(oauthURLCmd)
	oauthCmd.AddCommand(oauthExchangeCmd)
}
