package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	core "github.com/mohammad-safakhou/deepscout/internal/agent/core"
	"github.com/mohammad-safakhou/deepscout/internal/agent/telemetry"
	srv "github.com/mohammad-safakhou/deepscout/internal/server"
	"github.com/mohammad-safakhou/deepscout/provider"
)

// researchCMD runs a single research query from the terminal, without the
// HTTP server or any persistence. Clarification questions are answered
// interactively on stdin.
func researchCMD() *cobra.Command {
	var cfgPath string
	var research = &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research query and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query required")
			}

			cfg := config.LoadConfig(cfgPath)
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			caller, err := provider.New(cfg.LLM, tele)
			if err != nil {
				return err
			}
			registry, kb, err := srv.BuildRegistry(cfg)
			if err != nil {
				return err
			}
			defer kb.Close()
			orch := core.NewOrchestrator(cfg, caller, registry, tele)

			ctx := cmd.Context()
			progress := log.New(os.Stderr, "[RESEARCH] ", log.LstdFlags)
			emit := func(ev core.Event) {
				if ev.Type == core.EventStageProgress {
					progress.Printf("stage: %s", ev.Stage)
				}
			}

			conversation := []core.Turn{core.UserTurn(query)}
			reader := bufio.NewReader(os.Stdin)
			// A handful of clarification rounds at most; the engine asks at
			// most one question per run.
			for round := 0; round < 5; round++ {
				result := orch.Execute(ctx, uuid.New().String(), conversation, emit)
				if !result.ClarificationAsked {
					fmt.Println(result.FinalReport)
					return nil
				}
				fmt.Fprintf(os.Stderr, "\n%s\n> ", result.Question)
				answer, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read clarification answer: %w", err)
				}
				conversation = append(conversation,
					core.AssistantTurn(result.Question),
					core.UserTurn(strings.TrimSpace(answer)),
				)
			}
			return fmt.Errorf("giving up after repeated clarification rounds")
		},
	}
	research.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return research
}
