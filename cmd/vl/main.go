package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ventureline/internal/app"
	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/migrate"
	"ventureline/internal/notify"
	"ventureline/internal/repo"
	"ventureline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Ventureline CLI",
	Long: `Ventureline runs a venture through a fixed six-phase pipeline with
dual-approval gates and a three-level escalation ladder.
Core concepts:
- Workspace: your .ventureline directory holding only the database; configs live in the DB and are imported explicitly.
- Project: one venture moving through discovery -> branding -> product -> website -> marketing -> launch.
- Phases: each owned by one team; a phase activates only after the previous one completed, and completes only when its deliverables are approved.
- Deliverables: phase outputs that need BOTH an authority approval and a human approval before they count.
- Teams: one per phase, each with a manager and two agents; delegation hands the manager a directive.
- Escalations: blocked agents raise issues to their manager (level 1); stalled issues auto-promote to the senior agent (level 2) and finally to a human (level 3).
- Event log: diary of every transition, view with 'vl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VENTURELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(escalationCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectInitCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project with its six phases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitializeProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				return e.Repo.DeleteProject(ctx, target)
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "VENTURELINE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set VENTURELINE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pipeline scoreboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID = strings.TrimSpace(projectID)
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				status, err := e.GetStatus(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				fmt.Printf("Project: %s (%s), current phase %d\n", status.Project.ID, status.Project.Status, status.Project.CurrentPhase)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Phase", "Status", "Deliverables"})
				for _, ph := range status.Phases {
					approved := 0
					total := len(status.Deliverables[ph.ID])
					for _, d := range status.Deliverables[ph.ID] {
						if d.Status == "approved" {
							approved++
						}
					}
					tw.AppendRow(table.Row{ph.PhaseNumber, ph.Name, ph.Status, fmt.Sprintf("%d/%d approved", approved, total)})
				}
				tw.Render()
				for _, t := range status.ActiveTeams {
					fmt.Printf("Active team: %s (%s)\n", t.ID, t.Division)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func phaseCmd() *cobra.Command {
	phase := &cobra.Command{
		Use:   "phase",
		Short: "Manage phases",
		Long:  "Phases move pending -> active -> review -> completed, strictly in order. Completing one activates the next.",
	}
	phase.AddCommand(phaseListCmd())
	phase.AddCommand(phaseActivateCmd())
	phase.AddCommand(phaseCompleteCmd())
	return phase
}

func phaseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List phases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				phases, err := e.Repo.ListPhases(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(phases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Name", "Status", "Team", "Started", "Completed"})
				for _, ph := range phases {
					tw.AppendRow(table.Row{ph.PhaseNumber, ph.Name, ph.Status, ph.TeamID, deref(ph.StartedAt), deref(ph.CompletedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func phaseActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <number>",
		Short: "Activate a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("phase number must be an integer")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				phase, err := e.ActivatePhase(ctx, e.Config.Project.ID, number, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(phase)
			})
		},
	}
}

func phaseCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <number>",
		Short: "Complete a phase (activates the next one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("phase number must be an integer")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				phase, err := e.CompletePhase(ctx, e.Config.Project.ID, number, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(phase)
			})
		},
	}
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
	}
	team.AddCommand(teamListCmd())
	team.AddCommand(teamMembersCmd())
	team.AddCommand(teamDelegateCmd())
	return team
}

func teamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teams, err := e.Repo.ListTeams(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(teams)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Division", "Phase", "Status"})
				for _, t := range teams {
					tw.AppendRow(table.Row{t.ID, t.Division, t.ActivationPhase, t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func teamMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <team-id>",
		Short: "List team members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			teamID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListTeamMembers(ctx, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(members)
			})
		},
	}
}

func teamDelegateCmd() *cobra.Command {
	var directive string
	cmd := &cobra.Command{
		Use:   "delegate <team-id>",
		Short: "Hand the team manager a directive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if directive == "" {
				return fmt.Errorf("--directive required")
			}
			teamID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				manager, err := e.DelegateToManager(ctx, teamID, directive, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(manager)
			})
		},
	}
	cmd.Flags().StringVar(&directive, "directive", "", "work directive for the manager")
	return cmd
}

func deliverableCmd() *cobra.Command {
	del := &cobra.Command{
		Use:   "deliverable",
		Short: "Manage deliverables",
		Long:  "Deliverables need both an authority approval and a human approval. Approving the last one completes the phase.",
	}
	del.AddCommand(deliverableListCmd())
	del.AddCommand(deliverableApproveCmd())
	return del
}

func deliverableListCmd() *cobra.Command {
	var phaseID string
	var phaseNumber int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deliverables of a phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id := phaseID
				if id == "" {
					if phaseNumber == 0 {
						return fmt.Errorf("--phase-id or --phase required")
					}
					ph, err := e.Repo.GetPhase(ctx, e.Config.Project.ID, phaseNumber)
					if err != nil {
						return err
					}
					id = ph.ID
				}
				items, err := e.Repo.ListDeliverables(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Authority", "Human"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Type, d.Status, d.AuthorityApproved, d.HumanApproved})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phaseID, "phase-id", "", "phase id")
	cmd.Flags().IntVar(&phaseNumber, "phase", 0, "phase number")
	return cmd
}

func deliverableApproveCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a deliverable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ApproveDeliverable(ctx, id, engine.ApprovalKind(kind), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "approval kind (authority or human)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func escalationCmd() *cobra.Command {
	esc := &cobra.Command{
		Use:   "escalation",
		Short: "Manage escalations",
		Long:  "Escalations climb a three-level ladder: team manager, then the senior agent, then a human. Levels only go up, and stalled levels time out upward.",
	}
	esc.AddCommand(escalationCreateCmd())
	esc.AddCommand(escalationListCmd())
	esc.AddCommand(escalationShowCmd())
	esc.AddCommand(escalationAssignCmd())
	esc.AddCommand(escalationCeoCmd())
	esc.AddCommand(escalationHumanCmd())
	esc.AddCommand(escalationResolveCmd())
	esc.AddCommand(escalationRespondCmd())
	esc.AddCommand(escalationAttemptCmd())
	esc.AddCommand(escalationSweepCmd())
	return esc
}

func escalationCreateCmd() *cobra.Command {
	var opts engine.EscalationOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an escalation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				if opts.AgentID == "" {
					opts.AgentID = viper.GetString("actor-id")
				}
				esc, err := e.CreateEscalation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.AgentID, "agent-id", "", "raising agent id")
	cmd.Flags().StringVar(&opts.AgentName, "agent-name", "", "raising agent name")
	cmd.Flags().StringVar(&opts.ManagerID, "manager-id", "", "handling manager id")
	cmd.Flags().StringVar(&opts.IssueType, "issue-type", "", "issue type")
	cmd.Flags().StringVar(&opts.Description, "description", "", "issue description")
	cmd.Flags().StringVar(&opts.ContextJSON, "context-json", "", "context JSON")
	_ = cmd.MarkFlagRequired("issue-type")
	return cmd
}

func escalationListCmd() *cobra.Command {
	var f repo.EscalationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListEscalations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Level", "Handler", "Status", "Issue", "Agent"})
				for _, esc := range items {
					tw.AppendRow(table.Row{esc.ID, esc.Level, esc.HandlerType, esc.Status, esc.IssueType, esc.AgentID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Level, "level", 0, "level filter")
	cmd.Flags().StringVar(&f.AgentID, "agent-id", "", "agent filter")
	return cmd
}

func escalationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an escalation with its solution attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.Repo.GetEscalation(ctx, id)
				if err != nil {
					return err
				}
				attempts, err := e.Repo.ListSolutionAttempts(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"escalation":        esc,
					"solution_attempts": attempts,
				})
			})
		},
	}
}

func escalationAssignCmd() *cobra.Command {
	var managerID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a level-1 escalation to a manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.EscalateToManager(ctx, id, managerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&managerID, "manager-id", "", "manager id")
	_ = cmd.MarkFlagRequired("manager-id")
	return cmd
}

func escalationCeoCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate-ceo <id>",
		Short: "Promote an escalation to the senior agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.EscalateToCEO(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the manager could not resolve it")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func escalationHumanCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate-human <id>",
		Short: "Promote an escalation to the human operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.EscalateToHuman(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the senior agent could not resolve it")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func escalationResolveCmd() *cobra.Command {
	var resolution, resolutionType string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.ResolveEscalation(ctx, id, resolution, resolutionType, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution text")
	cmd.Flags().StringVar(&resolutionType, "type", "", "resolution type")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}

func escalationRespondCmd() *cobra.Command {
	var response, action, responderType string
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Respond as the current handler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.RespondToEscalation(ctx, id, viper.GetString("actor-id"), responderType, response, action)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "response text")
	cmd.Flags().StringVar(&action, "action", "", "resolve, escalate, or attempt")
	cmd.Flags().StringVar(&responderType, "responder-type", "", "manager, senior_agent, or human")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func escalationAttemptCmd() *cobra.Command {
	var level, reason string
	cmd := &cobra.Command{
		Use:   "attempt <id>",
		Short: "Record a solution attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				attempt, err := e.AddSolutionAttempt(ctx, id, level, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(attempt)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "attempt level (defaults to current handler)")
	cmd.Flags().StringVar(&reason, "reason", "", "what was tried and why it failed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func escalationSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Check escalation timeouts once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CheckTimeouts(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func inboxCmd() *cobra.Command {
	inbox := &cobra.Command{
		Use:   "inbox",
		Short: "Messages and notifications",
	}
	inbox.AddCommand(inboxMessagesCmd())
	inbox.AddCommand(inboxNotificationsCmd())
	inbox.AddCommand(inboxReadCmd())
	return inbox
}

func inboxMessagesCmd() *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMessages(ctx, e.Config.Project.ID, recipient)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient filter")
	return cmd
}

func inboxNotificationsCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListNotifications(ctx, e.Config.Project.ID, unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Priority", "Title", "Read", "At"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Priority, n.Title, n.Read, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	return cmd
}

func inboxReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.MarkNotificationRead(ctx, id)
			})
		},
	}
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: phase transitions, approvals, escalations, and more.",
	}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "vl_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "api_key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, nil)
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), e)
			if err != nil {
				return err
			}
			e = engine.New(conn, cfg)
			e.Notify = notify.New(cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("VENTURELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("VENTURELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartBackground(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Ventureline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), e)
	if err != nil {
		return err
	}
	e = engine.New(conn, cfg)
	e.Notify = notify.New(cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
