package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

// newUserCmd registers API users with bearer tokens in the configured store.
func newUserCmd(flags *rootFlags) *cobra.Command {
	var (
		id      string
		email   string
		plan    string
		founder bool
		token   string
	)

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user and print its bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			p := user.Plan(plan)
			switch p {
			case user.PlanGuest, user.PlanFree, user.PlanPro, user.PlanFounders:
			default:
				return fmt.Errorf("unknown plan %q", plan)
			}
			if id == "" {
				id = uuid.NewString()
			}
			if token == "" {
				token = uuid.NewString()
			}

			st, err := openStore(cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			u := user.User{ID: id, Email: email, Plan: p, Founder: founder}
			if err := st.SaveUser(cmd.Context(), u, token); err != nil {
				return fmt.Errorf("save user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s (%s) token: %s\n", u.ID, u.Plan, token)
			return nil
		},
	}
	add.Flags().StringVar(&id, "id", "", "user id, random when empty")
	add.Flags().StringVar(&email, "email", "", "user email")
	add.Flags().StringVar(&plan, "plan", string(user.PlanFree), "plan: guest, free, pro or founders")
	add.Flags().BoolVar(&founder, "founder", false, "grant founders access")
	add.Flags().StringVar(&token, "token", "", "bearer token, random when empty")

	cmd.AddCommand(add)
	return cmd
}
