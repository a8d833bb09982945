package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	_ "bookrag/internal/embedding/gemini"
	_ "bookrag/internal/embedding/hashing"
	_ "bookrag/internal/embedding/openai"
	"bookrag/internal/extract"
	"bookrag/internal/mcpserver"
	"bookrag/internal/session"
	"bookrag/internal/tui"
	"bookrag/internal/watch"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:          "bookrag",
		Short:        "ask questions about a single book",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml or ~/.config/bookrag/config.yaml)")

	rootCmd.AddCommand(
		chatCmd(&configPath),
		askCmd(&configPath),
		indexCmd(&configPath),
		statsCmd(&configPath),
		serveCmd(&configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logutil.GetLogger(context.Background()).Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func chatCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "interactive chat over the book",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, true)
			if err != nil {
				return err
			}
			// a failed build still lets the user retry with ctrl+r
			if err := a.pipeline.Initialize(ctx); err != nil {
				logutil.GetLogger(ctx).Error("initialize index failed", zap.Error(err))
			}
			m := tui.New(ctx, a.pipeline, session.NewHistory(), filepath.Base(a.cfg.Document.Path))
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}

func askCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "answer one question and print the pages it came from",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			if err := a.pipeline.Initialize(ctx); err != nil {
				return err
			}
			ans := a.pipeline.ProcessQuery(ctx, strings.Join(args, " "))
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Sources:")
				fmt.Fprintln(out, session.FormatSources(ans.Sources))
			}
			return nil
		},
	}
}

func indexCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "load the persisted index, building it when missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			if force {
				err = a.pipeline.Rebuild(ctx)
			} else {
				err = a.pipeline.Initialize(ctx)
			}
			if err != nil {
				return err
			}
			st := a.pipeline.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks, dimension %d, generation %s\n", st.Status, st.Documents, st.Dimension, st.Generation)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild from the document even if an index exists")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "show document and index status without building",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			a.index.Load(ctx)
			st := a.pipeline.Stats()
			doc := extract.FileInfo(a.cfg.Document.Path)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config:     %s\n", a.cfgPath)
			if doc.Exists {
				fmt.Fprintf(out, "Document:   %s (%.2f MB)\n", doc.Name, doc.SizeMB)
			} else {
				fmt.Fprintf(out, "Document:   %s (missing)\n", a.cfg.Document.Path)
			}
			fmt.Fprintf(out, "Index:      %s\n", st.Status)
			fmt.Fprintf(out, "Chunks:     %d\n", st.Documents)
			fmt.Fprintf(out, "Dimension:  %d\n", st.Dimension)
			fmt.Fprintf(out, "Model:      %s\n", st.Model)
			if st.Generation != "" {
				fmt.Fprintf(out, "Generation: %s\n", st.Generation)
			}
			return nil
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var (
		addr      string
		watchDocs bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "expose the book as MCP tools over stdio or SSE",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr == "" {
				addr = cfg.MCP.Addr
			}
			// stdout belongs to the protocol when serving stdio
			initLogger(cfg, addr == "")
			a, err := buildApp(ctx, cfg, path)
			if err != nil {
				return err
			}
			logger := logutil.GetLogger(ctx)
			if err := a.pipeline.Initialize(ctx); err != nil {
				logger.Error("initialize index failed, tools report not ready", zap.Error(err))
			}
			if watchDocs {
				w, err := watch.New(cfg.Document.Path, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, a.pipeline.Rebuild)
				if err != nil {
					return err
				}
				go func() {
					if err := w.Run(ctx); err != nil {
						logger.Error("document watcher stopped", zap.Error(err))
					}
				}()
			}
			return mcpserver.Serve(ctx, mcpserver.New(a.pipeline), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "SSE listen address; overrides mcp.addr, empty serves stdio")
	cmd.Flags().BoolVar(&watchDocs, "watch", false, "rebuild the index when the document changes")
	return cmd
}
