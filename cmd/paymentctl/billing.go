package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fitstack/subscription-payments/internal/app"
	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/domain"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed subscriptions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			n, err := app.RunSweep(commandContext(cmd), components.Locker, components.StateMachine, logger)
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d subscriptions\n", n)
			return err
		},
	}
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Administrative order transitions",
	}

	cmd.AddCommand(orderTransitionCmd("cancel", "Cancel a pending or processing order",
		func(m *billing.StateMachine, cmd *cobra.Command, number string) (*domain.Order, error) {
			return m.CancelOrder(commandContext(cmd), number)
		}))
	cmd.AddCommand(orderTransitionCmd("refund", "Mark a completed order refunded",
		func(m *billing.StateMachine, cmd *cobra.Command, number string) (*domain.Order, error) {
			return m.RefundOrder(commandContext(cmd), number)
		}))

	fail := orderTransitionCmd("fail", "Mark an unpaid order failed",
		func(m *billing.StateMachine, cmd *cobra.Command, number string) (*domain.Order, error) {
			reason, _ := cmd.Flags().GetString("reason")
			return m.FailOrder(commandContext(cmd), number, reason)
		})
	fail.Flags().String("reason", "failed by operator", "Failure reason stored with the order")
	cmd.AddCommand(fail)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [order-number]",
		Short: "Delete a cancelled order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			if err := components.StateMachine.DeleteOrder(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted order %s\n", args[0])
			return nil
		},
	})

	return cmd
}

type orderAction func(m *billing.StateMachine, cmd *cobra.Command, number string) (*domain.Order, error)

func orderTransitionCmd(use, short string, action orderAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [order-number]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			order, err := action(components.StateMachine, cmd, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order %s is %s\n", order.OrderNumber, order.Status)
			return nil
		},
	}
}

func subscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Administrative subscription transitions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel [subscription-id]",
		Short: "Cancel a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			sub, err := components.StateMachine.CancelSubscription(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s is %s\n", sub.ID, sub.Status)
			return nil
		},
	})

	return cmd
}
