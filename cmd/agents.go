package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rishsane/humuter-sub000/internal/config"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect deployed agents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents with plan, status and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLIStores(cmd.Context(), func(ctx context.Context, s *store.Stores) error {
				agents, err := s.Agents.List(ctx)
				if err != nil {
					return fmt.Errorf("list agents: %w", err)
				}
				printAgents(agents)
				return nil
			})
		},
	})
	return cmd
}

func printAgents(agents []store.AgentData) {
	if len(agents) == 0 {
		fmt.Println("No agents configured.")
		return
	}
	fmt.Printf("%-20s %-11s %-9s %-14s %-22s %s\n", "KEY", "PLAN", "STATUS", "MESSAGES", "TOKENS", "CHANNELS")
	for _, a := range agents {
		p := usage.PlanFor(a.Plan)
		fmt.Printf("%-20s %-11s %-9s %-14s %-22s %s\n",
			a.Key, a.Plan, a.Status,
			quota(a.Usage.MessagesHandled, p.MessageCap),
			quota(a.Usage.TokensUsed, p.TokenCeiling),
			strings.Join(routedChannels(a), ","),
		)
	}
}

// quota renders used/limit, or just used when the limit is unlimited.
func quota(used, limit int64) string {
	if limit <= 0 {
		return fmt.Sprintf("%d", used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}

func routedChannels(a store.AgentData) []string {
	out := make([]string, 0, len(a.Routes))
	for ch := range a.Routes {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// withCLIStores opens the configured stores for a one-shot command.
func withCLIStores(ctx context.Context, fn func(ctx context.Context, s *store.Stores) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, _, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(ctx, stores)
}
