package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/taskforge/internal/config"
	"github.com/p-blackswan/taskforge/internal/hooks"
	"github.com/p-blackswan/taskforge/internal/merge"
	"github.com/p-blackswan/taskforge/internal/metrics"
	"github.com/p-blackswan/taskforge/internal/service"
	"github.com/p-blackswan/taskforge/internal/storage"
	"github.com/p-blackswan/taskforge/internal/task"
)

// env holds everything a subcommand needs, assembled once per invocation.
type env struct {
	root     string
	settings *config.Settings
	logger   zerolog.Logger
	cache    *hooks.BusCache
	repo     storage.Repository
	svc      *service.Service
}

func setup(cmd *cobra.Command) (*env, error) {
	root, _ := cmd.Flags().GetString("project")
	verbose, _ := cmd.Flags().GetBool("verbose")

	settings, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	cache := hooks.NewBusCache(settings.HookCacheSize, logger)
	bus, err := cache.Bus(root)
	if err != nil {
		return nil, err
	}

	repo, err := settings.OpenRepository(logger)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{service.WithPipeline(bus)}
	if settings.MetricsAddr != "" {
		m := metrics.New()
		go func() {
			if err := http.ListenAndServe(settings.MetricsAddr, m.Handler()); err != nil {
				logger.Warn().Err(err).Str("addr", settings.MetricsAddr).Msg("metrics endpoint stopped")
			}
		}()
		opts = append(opts, service.WithMetrics(m))
	}

	return &env{
		root:     root,
		settings: settings,
		logger:   logger,
		cache:    cache,
		repo:     repo,
		svc:      service.New(repo, logger, opts...),
	}, nil
}

func (e *env) close() {
	if e.repo != nil {
		e.repo.Close()
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the project's task storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("project")
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
			cache := hooks.NewBusCache(4, logger)
			if _, err := config.Init(cmd.Context(), root, cache, logger); err != nil {
				return err
			}
			fmt.Printf("Initialized taskforge project in %s\n", root)
			return nil
		},
	}
}

func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Purge the project's task storage and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("project")
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
			cache := hooks.NewBusCache(4, logger)
			return config.Forget(cmd.Context(), root, cache, logger)
		},
	}
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <details>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			var parentID *uuid.UUID
			if parent, _ := cmd.Flags().GetString("parent"); parent != "" {
				id, err := uuid.Parse(parent)
				if err != nil {
					return fmt.Errorf("invalid parent id %q: %w", parent, err)
				}
				parentID = &id
			}

			t, err := e.svc.Create(cmd.Context(), args[0], args[1], parentID)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s  %s\n", t.ID, t.Name)
			return nil
		},
	}
	cmd.Flags().String("parent", "", "parent task id")
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			filter, err := filterFlag(cmd)
			if err != nil {
				return err
			}
			forest, err := e.svc.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printForest(os.Stdout, forest, 0)
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter: pending, completed or cancelled")
	return cmd
}

func statusCmd(use, short string, run func(*env, *cobra.Command, uuid.UUID) (*task.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			t, err := run(e, cmd, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s [%s]\n", t.ID, t.Name, t.Status)
			return nil
		},
	}
}

func doneCmd() *cobra.Command {
	return statusCmd("done", "Mark a task completed", func(e *env, cmd *cobra.Command, id uuid.UUID) (*task.Task, error) {
		return e.svc.Complete(cmd.Context(), id)
	})
}

func cancelCmd() *cobra.Command {
	return statusCmd("cancel", "Cancel a pending task", func(e *env, cmd *cobra.Command, id uuid.UUID) (*task.Task, error) {
		return e.svc.Cancel(cmd.Context(), id)
	})
}

func reopenCmd() *cobra.Command {
	return statusCmd("reopen", "Reopen a completed or cancelled task", func(e *env, cmd *cobra.Command, id uuid.UUID) (*task.Task, error) {
		return e.svc.Reopen(cmd.Context(), id)
	})
}

func rmCmd() *cobra.Command {
	return statusCmd("rm", "Remove a task and its subtasks", func(e *env, cmd *cobra.Command, id uuid.UUID) (*task.Task, error) {
		return e.svc.Remove(cmd.Context(), id)
	})
}

func updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task's name and/or details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			var name, details *string
			if cmd.Flags().Changed("name") {
				v, _ := cmd.Flags().GetString("name")
				name = &v
			}
			if cmd.Flags().Changed("details") {
				v, _ := cmd.Flags().GetString("details")
				details = &v
			}

			t, err := e.svc.Update(cmd.Context(), id, name, details)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s  %s\n", t.ID, t.Name)
			return nil
		},
	}
	cmd.Flags().String("name", "", "new name")
	cmd.Flags().String("details", "", "new details")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the collection as JSON to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			filter, err := filterFlag(cmd)
			if err != nil {
				return err
			}
			out, err := e.svc.Export(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter: pending, completed or cancelled")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import tasks from an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategyName, _ := cmd.Flags().GetString("strategy")
			strategy, err := merge.Parse(strategyName)
			if err != nil {
				return err
			}

			var data []byte
			if args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			forest, err := storage.DecodeDocument(data)
			if err != nil {
				return err
			}

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			n, err := e.svc.Import(cmd.Context(), strategy, forest)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d task(s) with strategy %s\n", n, strategy)
			return nil
		},
	}
	cmd.Flags().String("strategy", string(merge.StrategyMerge), "append, replace or merge")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <new-storage-path>",
		Short: "Migrate the collection to a different storage backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("project")
			force, _ := cmd.Flags().GetBool("force")

			settings, err := config.Load(root)
			if err != nil {
				return err
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})

			n, err := settings.SwitchStorage(cmd.Context(), root, args[0], force, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Migrated %d task(s) to %s (%s backend)\n", n, args[0], settings.Backend())
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing destination file")
	return cmd
}

func filterFlag(cmd *cobra.Command) (task.StatusFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	if status == "" {
		return task.FilterAll, nil
	}
	f := task.StatusFilter(status)
	if !task.Status(f).Valid() {
		return task.FilterAll, fmt.Errorf("unknown status %q", status)
	}
	return f, nil
}

func printForest(w io.Writer, forest []*task.Task, depth int) {
	for _, t := range forest {
		marker := " "
		switch t.Status {
		case task.StatusCompleted:
			marker = "x"
		case task.StatusCancelled:
			marker = "-"
		}
		fmt.Fprintf(w, "%s[%s] %s  %s\n", strings.Repeat("  ", depth), marker, t.ID, t.Name)
		printForest(w, t.Subtasks, depth+1)
	}
}
