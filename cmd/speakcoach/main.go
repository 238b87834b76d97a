// Command speakcoach is the terminal practice client. It records answers from
// the local microphone through ffmpeg and shows the feedback in place.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zhouzirui/z-speak/backend/internal/app"
	"github.com/zhouzirui/z-speak/backend/internal/config"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
	"github.com/zhouzirui/z-speak/backend/internal/store"
	"github.com/zhouzirui/z-speak/backend/internal/tui"
)

var (
	questionID   string
	questionType string
	logPath      string
	noHistory    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "speakcoach",
		Short:        "Speaking practice for IELTS and job interviews",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runCoach,
	}
	rootCmd.Flags().StringVar(&questionID, "question", "", "start directly with this question id")
	rootCmd.Flags().StringVar(&questionType, "type", "", "only offer questions of this type")
	rootCmd.Flags().StringVar(&logPath, "log", "", "write logs to this file (default: discard)")
	rootCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not store attempts")
	return rootCmd
}

func runCoach(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("speakcoach needs an interactive terminal; use practicetester for scripted runs")
	}

	// 全屏界面下日志只能写文件
	if logPath != "" {
		f, err := tea.LogToFile(logPath, "speakcoach")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	services, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}

	var attempts practiceService.AttemptStore
	if !noHistory && cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Printf("warning: failed to open attempt store: %v", err)
		} else {
			defer db.Close()
			attempts = db
		}
	}

	svc := practiceService.NewService(services.Questions, services.Pipeline, attempts, services.PracticeConfig(cfg.Recorder))
	defer svc.Shutdown()

	questions := services.Questions.Filter(practice.QuestionType(questionType))
	if len(questions) == 0 {
		return fmt.Errorf("no questions of type %q", questionType)
	}

	model := tui.New(ctx, svc, questions, practiceService.SourceMicrophone, questionID)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}
