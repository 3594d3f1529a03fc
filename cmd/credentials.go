package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage platform credentials",
	}
	cmd.AddCommand(newCredentialsSetCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var (
		userID       string
		platformName string
		tok          string
		refreshToken string
		clientID     string
		email        string
		password     string
	)

	c := &cobra.Command{
		Use:   "set",
		Short: "Store a user's credentials for one platform (encrypted at rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pf := offer.Platform(platformName)
			if pf != offer.PlatformDriverApp && pf != offer.PlatformPortal {
				return fmt.Errorf("--platform must be %q or %q", offer.PlatformDriverApp, offer.PlatformPortal)
			}

			ctx := context.Background()
			st, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			err = st.SaveCredentials(ctx, user.Credentials{
				UserID:       userID,
				Platform:     pf,
				Token:        tok,
				RefreshToken: refreshToken,
				ClientID:     clientID,
				Email:        email,
				Password:     password,
				Status:       user.CredentialValid,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "stored %s credentials for user %s\n", pf, userID)
			return nil
		},
	}

	c.Flags().StringVar(&userID, "user-id", "", "user id")
	c.Flags().StringVar(&platformName, "platform", "", "driverapp or portal")
	c.Flags().StringVar(&tok, "token", "", "bearer token")
	c.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token (driverapp)")
	c.Flags().StringVar(&clientID, "client-id", "", "oauth client id (driverapp)")
	c.Flags().StringVar(&email, "email", "", "login email (portal)")
	c.Flags().StringVar(&password, "password", "", "login password (portal)")
	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("platform")
	return c
}
