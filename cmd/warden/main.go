package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskwarden/internal/config"
	"taskwarden/internal/db"
	"taskwarden/internal/engine"
	"taskwarden/internal/migrate"
	"taskwarden/internal/narrate"
	"taskwarden/internal/oracle"
	"taskwarden/internal/scheduler"
	"taskwarden/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Taskwarden CLI",
	Long: `Taskwarden is a productivity enforcement engine.
It watches screen observations, judges them against your task list,
and escalates with interjections, strikes, and penalties when you drift.
Core pieces:
- Workspace: the .taskwarden directory holding the database and config.
- Tasks: what you said you would do; brain dumps become tasks via the oracle.
- Observer: screen observations posted by a client or recorded manually.
- Manager: the judging agent, ticking on a randomized interval.
- Compaction: folds observation history into summaries and forgives accumulated strikes.
- Strikes: 0 to 3; each interjection costs a tiered penalty from your account.
- Rewards: completing tasks places reward orders, tiered by completion ratio.`,
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
	viper.SetEnvPrefix("TASKWARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(braindumpCmd())
	rootCmd.AddCommand(observeCmd())
	rootCmd.AddCommand(managerCmd())
	rootCmd.AddCommand(compactionCmd())
	rootCmd.AddCommand(interjectionCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(serveCmd())
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enforcement status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.StrikeStatus(ctx)
				if err != nil {
					return err
				}
				mood, err := e.Mood(ctx)
				if err != nil {
					return err
				}
				account, err := e.Ledger.Account(ctx)
				if err != nil {
					return err
				}
				done, total, err := e.Repo.CountTasks(ctx)
				if err != nil {
					return err
				}
				pending, err := e.Repo.HasPendingInterjection(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"mood":                 mood,
					"strike_count":         st.StrikeCount,
					"force_redirect":       st.ForceRedirect,
					"balance":              account.Balance,
					"currency":             account.Currency,
					"tasks_done":           done,
					"tasks_total":          total,
					"pending_interjection": pending,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Mood: %s\n", mood)
				fmt.Printf("Strikes: %d/3", st.StrikeCount)
				if st.ForceRedirect {
					fmt.Print(" (force redirect)")
				}
				fmt.Println()
				fmt.Printf("Balance: %.2f %s\n", account.Balance, account.Currency)
				fmt.Printf("Tasks: %d/%d done\n", done, total)
				if pending {
					fmt.Println("Interjection pending: acknowledge it with 'warden interjection ack'")
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Done", "Created"})
				for _, t := range items {
					done := ""
					if t.Done {
						done = "x"
					}
					tw.AppendRow(table.Row{t.ID, t.Text, done, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "add <text>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				done, err := e.CompleteTask(ctx, id)
				if err != nil {
					return err
				}
				if !done {
					fmt.Println("task already done")
					return nil
				}
				fmt.Println("done")
				return nil
			})
		},
	})
	return task
}

func braindumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "braindump <text>",
		Short: "Turn free-form text into tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.BrainDump(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				for _, t := range created {
					fmt.Printf("added #%d: %s\n", t.ID, t.Text)
				}
				return nil
			})
		},
	}
}

func observeCmd() *cobra.Command {
	var window, app, description string
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Record a screen observation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var err error
				var o any
				if description != "" {
					o, err = e.RecordObservation(ctx, window, app, description)
				} else {
					o, err = e.ObserveScreen(ctx, window, app)
				}
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", "", "window title")
	cmd.Flags().StringVar(&app, "app", "", "application name")
	cmd.Flags().StringVar(&description, "description", "", "activity description (oracle fills it in when omitted)")
	return cmd
}

func managerCmd() *cobra.Command {
	mgr := &cobra.Command{Use: "manager", Short: "Manager agent"}
	mgr.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one manager tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunManager(ctx)
				if err != nil {
					return err
				}
				if res.Skipped {
					fmt.Println("skipped: interjection pending")
					return nil
				}
				return printJSON(res)
			})
		},
	})
	return mgr
}

func compactionCmd() *cobra.Command {
	comp := &cobra.Command{Use: "compaction", Short: "Compaction agent"}
	comp.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one compaction tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunCompaction(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	})
	return comp
}

func interjectionCmd() *cobra.Command {
	in := &cobra.Command{Use: "interjection", Short: "Pending interjection"}
	in.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the pending interjection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pi, err := e.Repo.PendingInterjection(ctx)
				if err != nil {
					fmt.Println("no pending interjection")
					return nil
				}
				return printJSON(pi)
			})
		},
	})
	in.AddCommand(&cobra.Command{
		Use:   "ack",
		Short: "Acknowledge the pending interjection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AcknowledgeInterjection(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("acknowledged %d, strikes %d/3\n", res.Acknowledged, res.StrikeCount)
				return nil
			})
		},
	})
	return in
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Penalty account"}
	acc.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Ledger.Account(ctx)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	})
	acc.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the initial balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Ledger.ResetAccount(ctx)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	})
	acc.AddCommand(transactionsCmd())
	return acc
}

func transactionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List ledger transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Ledger.ListTransactions(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Amount", "Balance", "Strike"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.TS, t.Type, t.Amount, t.BalanceAfter, t.StrikeCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func rewardsCmd() *cobra.Command {
	var limit int
	rw := &cobra.Command{Use: "rewards", Short: "Reward orders"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List reward orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Ledger.ListRewards(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max rows")
	rw.AddCommand(list)
	rw.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear reward history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Ledger.ResetRewards(ctx)
			})
		},
	})
	return rw
}

func assessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess <report>",
		Short: "Report completed work for assessment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.AssessCompletion(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println(out.Message)
				for _, text := range out.TasksCompleted {
					fmt.Printf("completed: %s\n", text)
				}
				if out.Reward != nil {
					fmt.Printf("reward: %s (%s)\n", out.Reward.Item, out.Reward.OrderID)
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	var n int
	log := &cobra.Command{Use: "log", Short: "Event log"}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				cursor := latest - int64(n)
				if cursor < 0 {
					cursor = 0
				}
				events, err := e.Repo.EventsAfter(ctx, n, cursor)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all state back to the seeded defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("pass --yes to confirm wiping all state")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ResetAll(ctx); err != nil {
					return err
				}
				fmt.Println("reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the enforcement agents",
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
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			orc := oracle.NewClient(oracle.ClientConfig{
				BaseURL: cfg.Oracle.BaseURL,
				Model:   cfg.Oracle.Model,
				Timeout: cfg.OracleTimeout(),
			}, logger)
			e := engine.New(conn, cfg, orc, logger)
			if err := e.Init(cmd.Context()); err != nil {
				return err
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			srv := &http.Server{Addr: addr, Handler: handler}
			g.Go(func() error {
				logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				err := scheduler.New(e, logger).Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			if cfg.Narration.Enabled {
				g.Go(func() error {
					err := narrate.New(e.Repo, cfg.Narration.URL, cfg.Narration.Secret, logger).Run(ctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8484", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

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
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	orc := oracle.NewClient(oracle.ClientConfig{
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.OracleTimeout(),
	}, nil)
	e := engine.New(conn, cfg, orc, nil)
	if err := e.Init(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
