package main

import (
	"github.com/spf13/cobra"

	"github.com/oriyet/backend/internal/events"
	"github.com/oriyet/backend/internal/payments"
)

func lookupsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookups",
		Short: "Inspect lookup tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that every status code the services use is seeded",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			cmd.Println("lookup tables OK")
			return nil
		},
	})
	return cmd
}

func paymentsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Expire pending payments past their deadline and release their registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, st, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			// Expiry never calls the gateway or sends email.
			n, err := payments.NewService(st, nil, nil, payments.Config{TTL: c.cfg.Payment.PendingTTL}, c.logger).ExpirePending(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("expired %d pending payments\n", n)
			return nil
		},
	})
	return cmd
}

func eventsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Event maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh-status",
		Short: "Move events to ongoing or completed based on their dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, st, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			n, err := events.NewService(st, c.logger).RefreshStatuses(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("updated %d events\n", n)
			return nil
		},
	})
	return cmd
}
