package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskboard-api/board"
	"taskboard-api/domain"
)

type app struct {
	env        func(string) string
	configPath string
	server     string
	token      string
	user       string

	state *board.State
	api   *board.Client
}

func newRootCmd(env func(string) string) *cobra.Command {
	a := &app{env: env}

	root := &cobra.Command{
		Use:           "taskboard",
		Short:         "Manage your task board",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.connect(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.config/taskboard/config.toml)")
	flags.StringVar(&a.server, "server", "", "API base URL")
	flags.StringVar(&a.token, "token", "", "bearer token")
	flags.StringVar(&a.user, "user", "", "owner id (defaults to the token subject)")

	root.AddCommand(
		a.listCmd(),
		a.addCmd(),
		a.editCmd(),
		a.rmCmd(),
		a.moveCmd(),
		a.advanceCmd(),
		a.reorderCmd(),
		a.summaryCmd(),
	)
	return root
}

func (a *app) connect(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := loadConfig(path, a.env)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.user != "" {
		cfg.User = a.user
	}
	if cfg, err = cfg.resolve(); err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	a.api = board.NewClient(cfg.Server, cfg.Token)
	a.state = board.NewState(a.api, cfg.User, board.NotifierFunc(func(op string, err error) {
		fmt.Fprintf(errOut, "taskboard: %s failed: %v\n", op, err)
	}))
	return a.state.Load(cmd.Context())
}

func (a *app) listCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by stage and order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks := a.state.Tasks()
			if stage != "" {
				s, err := domain.ParseStage(stage)
				if err != nil {
					return err
				}
				tasks = a.state.Stage(s)
			}
			return printTasks(cmd.OutOrStdout(), tasks)
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "only list one stage")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	var priority, deadline string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a task in the backlog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := domain.TaskFields{Name: strings.Join(args, " "), Priority: domain.Priority(priority), Deadline: deadline}
			t, err := a.state.Create(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVarP(&deadline, "deadline", "d", "", "deadline as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var name, priority, deadline string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's name, priority or deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, ok := a.state.Get(args[0])
			if !ok {
				return &domain.NotFoundError{TaskID: args[0]}
			}
			f := domain.TaskFields{Name: current.Name, Priority: current.Priority, Deadline: current.Deadline}
			if cmd.Flags().Changed("name") {
				f.Name = name
			}
			if cmd.Flags().Changed("priority") {
				f.Priority = domain.Priority(priority)
			}
			if cmd.Flags().Changed("deadline") {
				f.Deadline = deadline
			}
			t, err := a.state.Update(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), []domain.Task{t})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "new name")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVarP(&deadline, "deadline", "d", "", "deadline as YYYY-MM-DD")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := a.state.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <stage>",
		Short: "Move a task to the end of another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := domain.ParseStage(args[1])
			if err != nil {
				return err
			}
			return a.printResult(cmd, func(ctx context.Context) (domain.Task, error) {
				return a.state.Move(ctx, args[0], stage)
			})
		},
	}
}

func (a *app) advanceCmd() *cobra.Command {
	var back bool
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Move a task one stage forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := domain.Forward
			if back {
				dir = domain.Backward
			}
			return a.printResult(cmd, func(ctx context.Context) (domain.Task, error) {
				return a.state.Advance(ctx, args[0], dir)
			})
		},
	}
	cmd.Flags().BoolVarP(&back, "back", "b", false, "move one stage backward instead")
	return cmd
}

func (a *app) reorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id> <index>",
		Short: "Move a task to a position within its stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			current, ok := a.state.Get(args[0])
			if !ok {
				return &domain.NotFoundError{TaskID: args[0]}
			}
			return a.printResult(cmd, func(ctx context.Context) (domain.Task, error) {
				return a.state.Reorder(ctx, args[0], current.Stage, dest)
			})
		},
	}
}

func (a *app) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.api.Summary(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total: %d, completed: %d, pending: %d\n", s.Total, s.Completed, s.Pending)
			for st := domain.StageBacklog; st <= domain.StageDone; st++ {
				fmt.Fprintf(out, "  %-8s %d\n", st, s.PerStage[st])
			}
			return nil
		},
	}
}

func (a *app) printResult(cmd *cobra.Command, op func(context.Context) (domain.Task, error)) error {
	t, err := op(cmd.Context())
	if err != nil {
		return err
	}
	return printTasks(cmd.OutOrStdout(), []domain.Task{t})
}

func printTasks(w io.Writer, tasks []domain.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\t#\tID\tNAME\tPRIORITY\tDEADLINE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", t.Stage, t.Rank, t.ID, t.Name, t.Priority, t.Deadline)
	}
	return tw.Flush()
}
