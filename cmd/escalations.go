package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rishsane/humuter-sub000/internal/escalation"
	"github.com/rishsane/humuter-sub000/internal/store"
)

func escalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "Inspect and expire supervisor escalations",
	}
	cmd.AddCommand(escalationsListCmd())
	cmd.AddCommand(escalationsExpireCmd())
	return cmd
}

func escalationsListCmd() *cobra.Command {
	var (
		agentKey string
		status   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLIStores(cmd.Context(), func(ctx context.Context, s *store.Stores) error {
				opts := store.EscalationListOpts{Status: status, Limit: limit}
				if agentKey != "" {
					a, err := s.Agents.GetByKey(ctx, agentKey)
					if err != nil {
						return fmt.Errorf("agent %q: %w", agentKey, err)
					}
					opts.AgentID = &a.ID
				}
				recs, err := s.Escalations.List(ctx, opts)
				if err != nil {
					return fmt.Errorf("list escalations: %w", err)
				}
				printEscalations(recs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentKey, "agent", "", "filter by agent key")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, resolved, expired)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func escalationsExpireCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire pending escalations older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLIStores(cmd.Context(), func(ctx context.Context, s *store.Stores) error {
				sw, err := escalation.NewSweeper(s.Escalations, olderThan, "")
				if err != nil {
					return err
				}
				n, err := sw.ExpireOlderThan(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Printf("Expired %d escalation(s).\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", escalation.DefaultTTL, "age of pending escalations to expire")
	return cmd
}

func printEscalations(recs []store.EscalationData) {
	if len(recs) == 0 {
		fmt.Println("No escalations.")
		return
	}
	fmt.Printf("%-36s %-14s %-9s %-17s %-16s %s\n", "ID", "PLATFORM", "STATUS", "CREATED", "USER", "QUESTION")
	for _, e := range recs {
		fmt.Printf("%-36s %-14s %-9s %-17s %-16s %s\n",
			e.ID, e.Platform, e.Status,
			e.CreatedAt.UTC().Format("2006-01-02 15:04"),
			truncate(e.UserName, 16),
			truncate(e.UserQuestion, 60),
		)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
