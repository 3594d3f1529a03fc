package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/offer-sniper/internal/config"
	"github.com/example/offer-sniper/internal/crypto"
	"github.com/example/offer-sniper/internal/db"
	"github.com/example/offer-sniper/internal/migrate"
	"github.com/example/offer-sniper/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Up(ctx, d); err != nil {
		d.Close()
		return nil, nil, err
	}
	aead, err := crypto.New(cfg.CredEncKey)
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	return store.New(d, aead), d.Close, nil
}

func newUserAddCmd() *cobra.Command {
	var name string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a user with a default (empty) policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			u, err := st.CreateUser(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created user id=%s name=%q\n", u.ID, u.Name)
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "display name")
	_ = c.MarkFlagRequired("name")
	return c
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			users, err := st.ListUsers(ctx)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(os.Stdout, "id=%s name=%q active=%t tenant_enabled=%t\n",
					u.ID, u.Name, u.Active, u.TenantEnabled)
			}
			return nil
		},
	}
}
