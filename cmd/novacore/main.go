// Command novacore runs the Mission Workflow Execution Core as a
// standalone service or a one-shot CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"novacore/internal/app/executionguard"
	"novacore/internal/app/executor"
	"novacore/internal/app/nodeexec"
	"novacore/internal/app/poller"
	"novacore/internal/app/scheduler"
	"novacore/internal/config"
	"novacore/internal/domain/mission"
	"novacore/internal/errors"
	"novacore/internal/infra/missionstore"
	"novacore/internal/infra/persistence"
	"novacore/internal/logging"
	"novacore/internal/telemetry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var workspaceRoot string

	root := &cobra.Command{
		Use:   "novacore",
		Short: "Mission Workflow Execution Core",
		Long: `novacore runs the Mission DAG Executor, the lane-weighted Request
Scheduler, and the schedule-trigger poller for a multi-tenant personal
agent platform.`,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to nova.yaml (defaults to ./nova.yaml or $HOME/.nova/nova.yaml)")
	root.PersistentFlags().StringVar(&workspaceRoot, "workspace", ".", "workspace root for per-user mission/session storage")

	root.AddCommand(newServeCommand(&configPath, &workspaceRoot))
	root.AddCommand(newRunMissionCommand(&configPath, &workspaceRoot))
	root.AddCommand(newValidateMissionCommand())
	root.AddCommand(newExportMissionCommand(&workspaceRoot))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the novacore version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("novacore (mission workflow execution core)")
		},
	}
}

// buildApp wires ConfigKit, MissionStore, Scheduler, and the Executor the
// same way for both "serve" and "run-mission".
type app struct {
	runtime config.Runtime
	store   *missionstore.Store
	sched   *scheduler.Scheduler
	exec    *executor.Executor
	logger  logging.Logger
}

func buildApp(configPath, workspaceRoot string) (*app, error) {
	logger := logging.New("novacore")

	var opts []config.Option
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath))
	}
	rt, _, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	kit := persistence.New(persistence.WorkspaceRoot(workspaceRoot))
	store := missionstore.New(kit, nil)

	sched := scheduler.New(scheduler.Config{
		LaneWeights: map[string]int{
			scheduler.LaneFast:       4,
			scheduler.LaneDefault:    2,
			scheduler.LaneTool:       1,
			scheduler.LaneBackground: 1,
		},
		MaxInFlightGlobal:          rt.SchedulerMaxInFlightGlobal,
		MaxInFlightPerUser:         rt.SchedulerMaxInFlightPerUser,
		MaxInFlightPerConversation: rt.SchedulerMaxInFlightPerConversation,
		MaxQueueSize:               rt.SchedulerMaxQueueSize,
		MaxQueueSizePerUser:        rt.SchedulerMaxQueueSizePerUser,
		QueueStale:                 rt.SchedulerQueueStale,
		SupersedeQueuedByKey:       rt.SchedulerSupersedeQueuedByKey,
		StrictIsolation:            rt.SchedulerStrictIsolation,
	}, logger)

	guard := executionguard.New(executionguard.Config{
		PerUserInflightLimit: rt.ExecutionMaxInflightPerUser,
		GlobalInflightLimit:  rt.ExecutionMaxInflightGlobal,
		SlotTTL:              rt.ExecutionSlotTTL,
	}, nil)

	reg := executor.NewRegistry(logger)
	// No concrete LLM/search/dispatch collaborator is wired at the CLI
	// boundary: those are out-of-scope external integrations per the
	// collaborators package contracts. Node types that need them fail
	// with NO_COLLABORATOR until a caller embeds novacore with real ones.
	nodeexec.RegisterBuiltins(reg, nil, nil, nil)

	exec := executor.New(reg, guard)
	exec.Telemetry = telemetry.NewPromRecorder("novacore")
	exec.Logger = logger
	exec.MaxRunTime = rt.MissionMaxDuration

	return &app{runtime: rt, store: store, sched: sched, exec: exec, logger: logger}, nil
}

func newServeCommand(configPath, workspaceRoot *string) *cobra.Command {
	var users []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mission poller and serve scheduled mission runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath, *workspaceRoot)
			if err != nil {
				return err
			}

			p := poller.New(a.store, a.sched, a.exec, func() []string { return users }, a.logger)
			if err := p.Start(); err != nil {
				return fmt.Errorf("start poller: %w", err)
			}
			a.logger.Info("novacore serving %d tracked users", len(users))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			p.Stop()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&users, "user", nil, "user ID to poll for due mission runs (repeatable)")
	return cmd
}

func newRunMissionCommand(configPath, workspaceRoot *string) *cobra.Command {
	var userID, missionID string
	var manual bool

	cmd := &cobra.Command{
		Use:   "run-mission",
		Short: "Run a single mission once, synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath, *workspaceRoot)
			if err != nil {
				return err
			}

			missions, err := a.store.LoadMissions(userID)
			if err != nil {
				return fmt.Errorf("load missions: %w", err)
			}
			var target *mission.Mission
			for i := range missions {
				if missions[i].ID == missionID {
					target = &missions[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("mission %q not found for user %q", missionID, userID)
			}

			source := mission.SourceScheduler
			if manual {
				source = mission.SourceManual
			}
			result := a.exec.ExecuteMission(cmd.Context(), executor.Input{
				Mission:       target,
				Source:        source,
				UserContextID: userID,
			})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.OK {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user ID (required)")
	cmd.Flags().StringVar(&missionID, "mission", "", "mission ID to run (required)")
	cmd.Flags().BoolVar(&manual, "manual", true, "run with manual-trigger semantics instead of scheduler gating")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("mission")
	return cmd
}

func newValidateMissionCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate-mission",
		Short: "Validate a mission definition file (JSON or YAML) without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var m mission.Mission
			if err := decodeMissionFile(path, data, &m); err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			if len(m.Nodes) == 0 {
				return errors.NewMissionError("EMPTY_MISSION", "mission has no nodes")
			}
			ids := make(map[string]bool, len(m.Nodes))
			labels := make(map[string]bool, len(m.Nodes))
			for _, n := range m.Nodes {
				if labels[n.Label] {
					return errors.NewMissionError("GRAPH_VALIDATION_FAILED", fmt.Sprintf("duplicate label %q", n.Label))
				}
				labels[n.Label] = true
				ids[n.ID] = true
			}
			for _, c := range m.Connections {
				if !ids[c.SourceNodeID] || !ids[c.TargetNodeID] {
					return errors.NewMissionError("GRAPH_VALIDATION_FAILED", "connection references unknown node")
				}
			}
			fmt.Printf("OK: mission %q has %d nodes and %d connections\n", m.Label, len(m.Nodes), len(m.Connections))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to the mission definition (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newExportMissionCommand(workspaceRoot *string) *cobra.Command {
	var userID, missionID, out string

	cmd := &cobra.Command{
		Use:   "export-mission",
		Short: "Export one mission as human-editable YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			kit := persistence.New(persistence.WorkspaceRoot(*workspaceRoot))
			store := missionstore.New(kit, nil)
			missions, err := store.LoadMissions(userID)
			if err != nil {
				return err
			}
			for _, m := range missions {
				if m.ID != missionID {
					continue
				}
				data, err := yaml.Marshal(m)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			}
			return fmt.Errorf("mission %q not found for user %q", missionID, userID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user ID (required)")
	cmd.Flags().StringVar(&missionID, "mission", "", "mission ID to export (required)")
	cmd.Flags().StringVar(&out, "out", "", "output file (defaults to stdout)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("mission")
	return cmd
}

func decodeMissionFile(path string, data []byte, m *mission.Mission) error {
	if isYAMLPath(path) {
		return yaml.Unmarshal(data, m)
	}
	return json.Unmarshal(data, m)
}

func isYAMLPath(path string) bool {
	for _, suffix := range []string{".yaml", ".yml"} {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
