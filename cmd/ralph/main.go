package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/daemon"
	"github.com/zakelfassi/Ralph-Kit/internal/gitsync"
	"github.com/zakelfassi/Ralph-Kit/internal/loop"
	"github.com/zakelfassi/Ralph-Kit/internal/notify"
	"github.com/zakelfassi/Ralph-Kit/internal/router"
	"github.com/zakelfassi/Ralph-Kit/internal/state"
	"github.com/zakelfassi/Ralph-Kit/internal/status"
	"github.com/zakelfassi/Ralph-Kit/internal/tui"
	"github.com/zakelfassi/Ralph-Kit/internal/update"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Autonomous agent loop runner and supervisor",
	Long: `Ralph drives coding-agent CLIs (claude and codex) in a continuous loop
against a markdown task plan. The daemon supervises cycles, consumes
operator directives from the control document, and dispatches bounded
batches of build iterations until the plan is complete.`,
	Version: version,
}

var repoDir string

func loadConfig() (*config.Config, error) {
	dir := repoDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(dir)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	return notify.NewDispatcher(cfg.WebhookURL, cfg.DesktopNotify, cfg.NotifyTimeout)
}

func buildRouter(cfg *config.Config) (*router.Router, error) {
	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}
	store := state.NewFileStore(filepath.Join(stateDir, state.FileName))
	r := router.New(
		backend.NewClaude(cfg.ClaudeCommand),
		backend.NewCodex(cfg.CodexCommand),
		store,
		buildNotifier(cfg),
	)
	r.Failover = cfg.FailoverEnabled
	return r, nil
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run one bounded batch of loop iterations",
	Long: `Loop runs up to --iterations iterations of the given task type against
the task plan, pushing the branch after each iteration. Exit code 0
means the batch completed (including budget exhaustion); 127 means no
backend binary was available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		taskName, _ := cmd.Flags().GetString("task")
		iterations, _ := cmd.Flags().GetInt("iterations")
		forced, _ := cmd.Flags().GetString("force-backend")
		noFailover, _ := cmd.Flags().GetBool("no-failover")

		task := router.TaskType(taskName)
		switch task {
		case router.TaskPlan, router.TaskPlanWork, router.TaskReview, router.TaskSecurity, router.TaskBuild:
		default:
			return fmt.Errorf("unknown task type %q", taskName)
		}

		if noFailover {
			cfg.FailoverEnabled = false
		}

		r, err := buildRouter(cfg)
		if err != nil {
			return err
		}

		runner := loop.NewRunner(cfg, r, gitsync.NewSyncer(cfg.RepoDir, buildNotifier(cfg)), loop.NewOutput(isTerminal()))
		if forced != "" {
			id := backend.ID(forced)
			if !id.Valid() {
				return fmt.Errorf("unknown backend %q", forced)
			}
			runner.Forced = id
		}

		ctx, cancel := signalContext()
		defer cancel()

		code, err := runner.Run(ctx, task, iterations)
		if err != nil {
			return err
		}
		if code != loop.ExitOK {
			os.Exit(code)
		}
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the supervising daemon",
	Long: `Daemon cycles on an interval: it honors the [PAUSE] directive, backs
off when the same questions stay unanswered, consumes one-shot control
flags, and dispatches loop batches as subprocesses. A second instance
finding the lock held exits quietly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if notice := update.CheckPeriodically(version); notice != "" {
			fmt.Fprintln(os.Stderr, notice)
		}

		d, err := daemon.New(cfg, buildNotifier(cfg))
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		return d.Run(ctx)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the repository's ralph state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return tui.Run(cfg)
		}

		snap, err := status.Collect(cfg)
		if err != nil {
			return err
		}
		fmt.Print(status.Render(snap))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ralph version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ralph %s\n", version)
		if notice := update.CheckPeriodically(version); notice != "" {
			fmt.Println(notice)
		}
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade ralph to the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("Current version: %s\n", version)
		if err := update.Update(ctx, version); err != nil {
			return err
		}
		fmt.Println("Upgraded. Run `ralph --version` to confirm.")
		return nil
	},
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "C", "", "Repository directory (default: current directory)")

	loopCmd.Flags().StringP("task", "t", string(router.TaskBuild), "Task type: plan, plan-work, build, review, security")
	loopCmd.Flags().IntP("iterations", "n", 0, "Iteration budget (default: config max_iterations)")
	loopCmd.Flags().String("force-backend", "", "Pin all invocations to one backend: claude or codex")
	loopCmd.Flags().Bool("no-failover", false, "Disable backend failover for this run")

	statusCmd.Flags().BoolP("watch", "w", false, "Live dashboard, refreshed every few seconds")

	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(upgradeCmd)
}

func main() {
	// Optional .env next to the working directory; missing is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
