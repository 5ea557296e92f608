package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fitstack/subscription-payments/internal/core/worker"
)

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dl"},
		Short:   "Inspect and replay abandoned reconciliations",
	}
	cmd.AddCommand(deadLettersListCmd())
	cmd.AddCommand(deadLettersReplayCmd())
	return cmd
}

func deadLettersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved dead letters, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			records, err := components.DeadLetters.ListPending(commandContext(cmd), limit)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending dead letters")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORDER\tATTEMPT\tTRIES\tCREATED\tERROR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.OrderNumber, r.AttemptID, r.Attempts, r.CreatedAt.Format("2006-01-02 15:04:05"), r.LastError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 50, "Maximum results")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}

func deadLettersReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [id...]",
		Short: "Run dead-lettered tasks through the reconciler again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			failed := 0
			for _, id := range args {
				task, err := worker.Replay(commandContext(cmd), components.DeadLetters, components.Reconciler, id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: replayed order %s\n", id, task.OrderNumber)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d replays failed", failed, len(args))
			}
			return nil
		},
	}
}
