package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"testline/internal/app"
	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/events"
	"testline/internal/repo"
	"testline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Testline CLI",
	Long: `Testline manages web test plans from the terminal.
- Workspace: your .testline directory holding the database; testline.yml holds settings.
- Project: owns test suites; every new project starts with a default suite.
- Suite: groups test cases.
- Case: a sequence of ordered steps (navigate, click, fill, assert, wait, hover)
  plus dependencies on other cases and shared data it produces.
- Dependencies: cases can build on each other; cycles are rejected and
  'tl dep tree' draws the resolved graph.
- Shared data: values one case produces and another consumes, keyed by name.
- Generate: 'tl generate' drafts a case from a requirement sentence.
- Run: 'tl run' walks the steps in a simulator and records a report.`,
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
	// .env keeps per-workspace defaults like TESTLINE_DEFAULT_PROJECT.
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("TESTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides workspace default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(suiteCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.OwnerID, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var description, owner string
	var members []string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project with its default suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.CreateProject(ctx, args[0], description, owner, members)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "project description")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringSliceVar(&members, "member", nil, "member id (repeatable)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a project with suites and cases",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				id, err := activeProject(ctx, e, args)
				if err != nil {
					return err
				}
				p, err := e.GetProject(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.UpdateProject(ctx, args[0], flagChanged(cmd, "name", name), flagChanged(cmd, "description", description))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteProject(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			envPath := filepath.Join(workspace, ".env")
			env, err := godotenv.Read(envPath)
			if err != nil {
				if !os.IsNotExist(err) {
					return err
				}
				env = map[string]string{}
			}
			env["TESTLINE_DEFAULT_PROJECT"] = projectID
			if err := godotenv.Write(env, envPath); err != nil {
				return err
			}
			fmt.Printf("Set TESTLINE_DEFAULT_PROJECT=%s in %s\n", projectID, envPath)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			c, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if c == nil {
				fmt.Println(config.GenerateDefault(viper.GetString("project")))
				return nil
			}
			return printJSON(c)
		},
	})
	var filePath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import config YAML into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			dest := config.Path(viper.GetString("workspace"))
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Imported config for project %s into %s\n", c.Project.ID, dest)
			return nil
		},
	}
	importCmd.Flags().StringVar(&filePath, "file", "", "YAML config file")
	_ = importCmd.MarkFlagRequired("file")
	cfg.AddCommand(importCmd)
	return cfg
}

// --- suite ---

func suiteCmd() *cobra.Command {
	st := &cobra.Command{Use: "suite", Short: "Manage test suites"}
	st.AddCommand(suiteListCmd())
	st.AddCommand(suiteCreateCmd())
	st.AddCommand(suiteShowCmd())
	st.AddCommand(suiteUpdateCmd())
	st.AddCommand(suiteDeleteCmd())
	return st
}

func suiteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suites of the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID, err := activeProject(ctx, e, nil)
				if err != nil {
					return err
				}
				suites, err := e.Repo.ListSuites(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suites)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Description"})
				for _, s := range suites {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func suiteCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a suite in the active project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID, err := activeProject(ctx, e, nil)
				if err != nil {
					return err
				}
				s, err := e.CreateTestSuite(ctx, projectID, args[0], description)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "suite description")
	return cmd
}

func suiteShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a suite with its cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.GetTestSuite(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	return cmd
}

func suiteUpdateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.UpdateTestSuite(ctx, args[0], flagChanged(cmd, "name", name), flagChanged(cmd, "description", description))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func suiteDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a suite and its cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteTestSuite(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

// --- case ---

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage test cases"}
	c.AddCommand(caseListCmd())
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseUpdateCmd())
	c.AddCommand(caseDeleteCmd())
	return c
}

func caseListCmd() *cobra.Command {
	var suiteID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases in a suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cases, err := e.Repo.ListCases(ctx, suiteID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Steps", "Deps"})
				for _, tc := range cases {
					tw.AppendRow(table.Row{tc.ID, tc.Name, tc.Type, coloredStatus(tc.Status), len(tc.Steps), len(tc.Dependencies)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&suiteID, "suite", "", "suite id")
	_ = cmd.MarkFlagRequired("suite")
	return cmd
}

func caseCreateCmd() *cobra.Command {
	var suiteID, description, requirement, target, caseType string
	var deps []string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tc, err := e.CreateTestCase(ctx, engine.CaseCreateOptions{
					TestSuiteID:  suiteID,
					Name:         args[0],
					Description:  description,
					Requirement:  requirement,
					Target:       target,
					Type:         caseType,
					Dependencies: deps,
				})
				if err != nil {
					return err
				}
				return printJSON(tc)
			})
		},
	}
	cmd.Flags().StringVar(&suiteID, "suite", "", "suite id")
	cmd.Flags().StringVar(&description, "description", "", "case description")
	cmd.Flags().StringVar(&requirement, "requirement", "", "requirement text")
	cmd.Flags().StringVar(&target, "target", "", "target URL")
	cmd.Flags().StringVar(&caseType, "type", "positive", "positive|negative|edge_case")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency case id (repeatable)")
	_ = cmd.MarkFlagRequired("suite")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case with steps and dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tc, err := e.GetTestCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(tc)
			})
		},
	}
	return cmd
}

func caseUpdateCmd() *cobra.Command {
	var name, description, requirement, target, caseType, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tc, err := e.UpdateTestCase(ctx, args[0], engine.CaseUpdateOptions{
					Name:        flagChanged(cmd, "name", name),
					Description: flagChanged(cmd, "description", description),
					Requirement: flagChanged(cmd, "requirement", requirement),
					Target:      flagChanged(cmd, "target", target),
					Type:        flagChanged(cmd, "type", caseType),
					Status:      flagChanged(cmd, "status", status),
				})
				if err != nil {
					return err
				}
				return printJSON(tc)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&requirement, "requirement", "", "new requirement")
	cmd.Flags().StringVar(&target, "target", "", "new target URL")
	cmd.Flags().StringVar(&caseType, "type", "", "positive|negative|edge_case")
	cmd.Flags().StringVar(&status, "status", "", "draft|ready|running|passed|failed|blocked")
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a case and its dependency edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteTestCase(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

// --- step ---

func stepCmd() *cobra.Command {
	s := &cobra.Command{Use: "step", Short: "Manage test steps"}
	s.AddCommand(stepAddCmd())
	s.AddCommand(stepUpdateCmd())
	s.AddCommand(stepDeleteCmd())
	s.AddCommand(stepReorderCmd())
	return s
}

func stepAddCmd() *cobra.Command {
	var caseID, action, selector, value, expected, description string
	var order int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a step to a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.AddTestStep(ctx, caseID, domain.TestStep{
					Description:     description,
					Action:          action,
					Selector:        selector,
					Value:           value,
					ExpectedOutcome: expected,
					Order:           order,
				})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	cmd.Flags().StringVar(&action, "action", "", "navigate|click|fill|assert|wait|hover")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector or URL")
	cmd.Flags().StringVar(&value, "value", "", "value for fill steps")
	cmd.Flags().StringVar(&expected, "expected", "", "expected outcome for assert steps")
	cmd.Flags().StringVar(&description, "description", "", "step description")
	cmd.Flags().IntVar(&order, "order", 0, "explicit position (default appends)")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func stepUpdateCmd() *cobra.Command {
	var action, selector, value, expected, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.UpdateTestStep(ctx, args[0], repoStepUpdate(cmd, description, action, selector, value, expected))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "new action")
	cmd.Flags().StringVar(&selector, "selector", "", "new selector")
	cmd.Flags().StringVar(&value, "value", "", "new value")
	cmd.Flags().StringVar(&expected, "expected", "", "new expected outcome")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func stepDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteTestStep(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func stepReorderCmd() *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "reorder <step-id>...",
		Short: "Reorder the steps of a case",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				steps, err := e.ReorderTestSteps(ctx, caseID, args)
				if err != nil {
					return err
				}
				return printJSON(steps)
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	_ = cmd.MarkFlagRequired("case")
	return cmd
}

// --- dependencies ---

func depCmd() *cobra.Command {
	d := &cobra.Command{Use: "dep", Short: "Manage case dependencies"}
	d.AddCommand(depAddCmd())
	d.AddCommand(depRemoveCmd())
	d.AddCommand(depTreeCmd())
	return d
}

func depAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <case-id> <depends-on-id>",
		Short: "Add a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.AddDependency(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("%s now depends on %s\n", args[0], args[1])
				return nil
			})
		},
	}
	return cmd
}

func depRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <case-id> <depends-on-id>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.RemoveDependency(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("removed dependency %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
	return cmd
}

func depTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree <case-id>",
		Short: "Draw the resolved dependency tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tree, err := e.DependencyTree(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tree)
				}
				if tree == nil {
					fmt.Println("no tree")
					return nil
				}
				fmt.Printf("%s [%s]\n", tree.Name, tree.Status)
				for i, c := range tree.Children {
					printDepTree(c, "", i == len(tree.Children)-1)
				}
				return nil
			})
		},
	}
	return cmd
}

func printDepTree(n *domain.DependencyNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s]\n", prefix, connector, n.Name, n.Status)
	for i, c := range n.Children {
		printDepTree(c, newPrefix, i == len(n.Children)-1)
	}
}

// --- shared data ---

func dataCmd() *cobra.Command {
	d := &cobra.Command{Use: "data", Short: "Manage shared test data"}
	d.AddCommand(dataListCmd())
	d.AddCommand(dataSetCmd())
	d.AddCommand(dataGetCmd())
	d.AddCommand(dataDeleteCmd())
	d.AddCommand(dataClearCmd())
	d.AddCommand(dataObjectCmd())
	return d
}

func dataListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shared data items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListSharedData(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Value", "Source Case", "Updated"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.Key, item.ValueJSON, item.SourceCaseID, item.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func dataSetCmd() *cobra.Command {
	var description, sourceCase string
	cmd := &cobra.Command{
		Use:   "set <key> <value-json>",
		Short: "Create or update a shared data item by key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				item, err := e.UpsertSharedData(ctx, args[0], args[1], description, sourceCase)
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "item description")
	cmd.Flags().StringVar(&sourceCase, "source-case", "", "producing case id")
	return cmd
}

func dataGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a shared data item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				item, err := e.GetSharedDataByKey(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
	return cmd
}

func dataDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a shared data item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				item, err := e.GetSharedDataByKey(ctx, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteSharedData(ctx, item.ID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func dataClearCmd() *cobra.Command {
	var sourceCase string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear shared data, optionally only one case's items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				n, err := e.ClearSharedData(ctx, sourceCase)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceCase, "source-case", "", "only items produced by this case")
	return cmd
}

func dataObjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "All shared data folded into one key/value object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				obj, err := e.SharedDataObject(ctx)
				if err != nil {
					return err
				}
				return printJSON(obj)
			})
		},
	}
	return cmd
}

// --- generate ---

func generateCmd() *cobra.Command {
	var suiteID string
	var deps []string
	cmd := &cobra.Command{
		Use:   "generate <requirement>",
		Short: "Generate a draft case from a requirement sentence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				requirement := strings.Join(args, " ")
				fmt.Println(color.CyanString("Generating test case..."))
				tc, err := e.GenerateTestCase(ctx, suiteID, requirement, deps)
				if err != nil {
					return err
				}
				fmt.Println(color.GreenString("Created %s (%d steps)", tc.ID, len(tc.Steps)))
				return printJSON(tc)
			})
		},
	}
	cmd.Flags().StringVar(&suiteID, "suite", "", "suite id")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency case id (repeatable)")
	_ = cmd.MarkFlagRequired("suite")
	return cmd
}

// --- run ---

func runCmd() *cobra.Command {
	var browser string
	var stepDelayMS int
	var failFast bool
	cmd := &cobra.Command{
		Use:   "run <case-id>",
		Short: "Run a case in the simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tc, err := e.GetTestCase(ctx, args[0])
				if err != nil {
					return err
				}
				bar := progressbar.NewOptions(len(tc.Steps),
					progressbar.OptionSetDescription(color.CyanString("Running %s", tc.Name)),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprint(os.Stderr, "\n")
					}),
				)
				rep, err := e.RunTestCase(ctx, args[0], engine.RunOptions{
					Browser:   browser,
					StepDelay: time.Duration(stepDelayMS) * time.Millisecond,
					FailFast:  failFast,
					OnStep: func(step domain.TestStep, total int) {
						bar.Describe(color.CyanString("Step %d/%d: %s", step.Order, total, step.Action))
						_ = bar.Add(1)
					},
				})
				if err != nil {
					return err
				}
				_ = bar.Finish()
				if rep.Status == "passed" {
					color.Green("PASSED in %dms (%s)", rep.DurationMS, rep.Browser)
				} else {
					color.Red("FAILED in %dms (%s)", rep.DurationMS, rep.Browser)
				}
				for _, l := range rep.Logs {
					fmt.Printf("  [%s] %s\n", l.Level, l.Message)
				}
				fmt.Println("report:", rep.ID)
				if e.Config != nil && e.Config.Run.ReportOutput != "" {
					data, err := json.MarshalIndent(rep, "", "  ")
					if err != nil {
						return err
					}
					out := e.Config.Run.ReportOutput
					if err := os.WriteFile(out, data, 0o644); err != nil {
						return fmt.Errorf("write report to %s: %w", out, err)
					}
					fmt.Println("report written to", out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&browser, "browser", "", "chrome|firefox|safari|edge")
	cmd.Flags().IntVar(&stepDelayMS, "step-delay-ms", 0, "delay between steps (0 uses run.step_delay_ms)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failing step")
	return cmd
}

// --- report ---

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "View run reports"}
	var caseID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListReports(ctx, caseID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Case", "Status", "Browser", "Duration", "Started"})
				for _, rep := range items {
					tw.AppendRow(table.Row{rep.ID, rep.TestCaseName, coloredStatus(rep.Status), rep.Browser, fmt.Sprintf("%dms", rep.DurationMS), rep.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&caseID, "case", "", "filter by case id")
	list.Flags().IntVar(&limit, "n", 20, "number of reports")
	r.AddCommand(list)

	r.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a report with logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.Repo.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	})
	return r
}

// --- status ---

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Case counts by status for the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID, err := activeProject(ctx, e, nil)
				if err != nil {
					return err
				}
				cases, err := e.Repo.ListProjectCases(ctx, projectID)
				if err != nil {
					return err
				}
				counts := map[string]int{}
				for _, tc := range cases {
					counts[tc.Status]++
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project_id": projectID, "case_counts": counts})
				}
				fmt.Println("project:", projectID)
				for _, status := range []string{"draft", "ready", "running", "passed", "failed", "blocked"} {
					if counts[status] > 0 {
						fmt.Printf("  %s: %d\n", coloredStatus(status), counts[status])
					}
				}
				fmt.Printf("  total: %d\n", len(cases))
				return nil
			})
		},
	}
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var after int64
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				evts, err := events.After(ctx, e.DB, after, n)
				if err != nil {
					return err
				}
				return printJSON(evts)
			})
		},
	}
	tail.Flags().Int64Var(&after, "after", 0, "event id cursor")
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	lg.AddCommand(tail)
	return lg
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e, err := app.NewEngine(conn, workspace)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Testline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	e, err := app.NewEngine(conn, workspace)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func activeProject(ctx context.Context, e *engine.Engine, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	override := viper.GetString("project")
	if override == "" {
		override = viper.GetString("default-project")
	}
	return app.ResolveProject(ctx, e.Repo, e.Config, override)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func repoStepUpdate(cmd *cobra.Command, description, action, selector, value, expected string) repo.StepUpdate {
	return repo.StepUpdate{
		Description:     flagChanged(cmd, "description", description),
		Action:          flagChanged(cmd, "action", action),
		Selector:        flagChanged(cmd, "selector", selector),
		Value:           flagChanged(cmd, "value", value),
		ExpectedOutcome: flagChanged(cmd, "expected", expected),
	}
}

func flagChanged(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func coloredStatus(status string) string {
	switch status {
	case "passed":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	case "running":
		return color.CyanString(status)
	case "blocked":
		return color.YellowString(status)
	default:
		return status
	}
}
