// Command practicetester exercises the transcription and analysis services
// from the command line without the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-speak/backend/internal/app"
	"github.com/zhouzirui/z-speak/backend/internal/capture"
	"github.com/zhouzirui/z-speak/backend/internal/config"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/pipeline"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
	"github.com/zhouzirui/z-speak/backend/internal/store"
)

var (
	questionID   string
	questionType string
	answerText   string
	durationSec  int
	recordSec    int
	timeout      time.Duration
	saveAttempt  bool
	outPath      string
	listLimit    int
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "practicetester",
		Short:        "Manual checks for the speaking practice pipeline",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Minute, "overall request timeout")

	rootCmd.AddCommand(newQuestionsCmd())
	rootCmd.AddCommand(newTranscribeCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newAttemptsCmd())
	rootCmd.AddCommand(newNarrateCmd())
	return rootCmd
}

func newQuestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the question bank",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			questions, err := app.LoadQuestions(cfg.Questions)
			if err != nil {
				return err
			}
			for _, q := range questions.Filter(practice.QuestionType(questionType)) {
				fmt.Printf("%-32s %-12s %4ds  %s\n", q.ID, q.Type, q.ExpectedDuration, q.Prompt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&questionType, "type", "", "only list this question type")
	return cmd
}

func newTranscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe one audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log.Printf("开始转写: file=%s mime=%s backend=%s", args[0], blob.MIMEType, services.Transcriber.Backend())
			result := services.Transcriber.Transcribe(ctx, blob)
			printJSON(result)
			if !result.Success {
				return fmt.Errorf("transcription failed: %s", result.Error)
			}
			return nil
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a typed answer against a question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			if services.Analyzer == nil {
				return pipeline.ErrAnalyzerUnavailable
			}
			q, ok := services.Questions.FindByID(questionID)
			if !ok {
				return fmt.Errorf("unknown question %q", questionID)
			}
			if strings.TrimSpace(answerText) == "" {
				return fmt.Errorf("--text is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			analysis, err := services.Analyzer.Analyze(ctx, answerText, q, durationSec, 1)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}
			printJSON(analysis)
			return nil
		},
	}
	cmd.Flags().StringVar(&questionID, "question", "ielts-p1-hometown", "question id")
	cmd.Flags().StringVar(&answerText, "text", "", "answer transcript")
	cmd.Flags().IntVar(&durationSec, "duration", 30, "answer duration in seconds")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <audio-file>",
		Short: "Transcribe and analyze a recorded answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, cfg, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			q, ok := services.Questions.FindByID(questionID)
			if !ok {
				return fmt.Errorf("unknown question %q", questionID)
			}
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sessionID := fmt.Sprintf("manual-%d", time.Now().UnixNano())
			outcome := services.Pipeline.Run(ctx, pipeline.Input{
				SessionID: sessionID,
				Blob:      blob,
				Question:  q,
				Duration:  durationSec,
			}, pipeline.Callbacks{
				OnTranscription: func(r practice.TranscriptionResult) {
					log.Printf("转写完成: success=%t confidence=%.2f", r.Success, r.Confidence)
				},
				OnAnalysis: func(a practice.AnswerAnalysis) {
					log.Printf("分析完成: overall=%.1f", a.OverallScore)
				},
			})
			printJSON(outcome.Analysis)

			if saveAttempt {
				attempt := practice.Attempt{
					ID:            sessionID,
					SessionID:     sessionID,
					QuestionID:    q.ID,
					State:         practice.StateStopped,
					Duration:      durationSec,
					MIMEType:      blob.MIMEType,
					Succeeded:     outcome.Succeeded,
					Transcription: outcome.Transcription,
					Analysis:      outcome.Analysis,
				}
				if outcome.Succeeded {
					attempt.State = practice.StateCompleted
				}
				if err := insertAttempt(cmd.Context(), cfg.Store.Path, attempt); err != nil {
					return err
				}
			}
			if !outcome.Succeeded {
				return fmt.Errorf("processing failed: %v", outcome.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&questionID, "question", "ielts-p1-hometown", "question id")
	cmd.Flags().IntVar(&durationSec, "duration", 30, "answer duration in seconds")
	cmd.Flags().BoolVar(&saveAttempt, "save", false, "store the attempt in the database")
	return cmd
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an answer from the microphone with ffmpeg and process it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, cfg, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			var attempts practiceService.AttemptStore
			if saveAttempt {
				db, err := store.Open(cfg.Store.Path)
				if err != nil {
					return fmt.Errorf("open attempt store: %w", err)
				}
				defer db.Close()
				attempts = db
			}

			svc := practiceService.NewService(services.Questions, services.Pipeline, attempts, services.PracticeConfig(cfg.Recorder))
			defer svc.Shutdown()

			ctx := cmd.Context()
			sess, err := svc.CreateSession(ctx, questionID, practiceService.SourceMicrophone)
			if err != nil {
				return err
			}
			fmt.Printf("Question: %s\n", sess.Question().Prompt)

			if err := svc.Start(ctx, sess.ID); err != nil {
				return fmt.Errorf("start recording: %w", err)
			}
			log.Printf("录音中，%d 秒后停止...", recordSec)

			events, unsubscribe := sess.Subscribe()
			defer unsubscribe()
			waitForStop(ctx, events, time.Duration(recordSec)*time.Second)

			if sess.View().Recorder.State != practice.StateStopped {
				if err := svc.Stop(ctx, sess.ID); err != nil {
					return fmt.Errorf("stop recording: %w", err)
				}
			}
			if outPath != "" {
				blob, ok := sess.Audio()
				if !ok {
					return fmt.Errorf("no audio was recorded")
				}
				if err := os.WriteFile(outPath, blob.Data, 0o644); err != nil {
					return fmt.Errorf("write audio: %w", err)
				}
				log.Printf("录音已保存: %s (%s)", outPath, blob.MIMEType)
			}

			outcome, err := svc.Process(ctx, sess.ID)
			if err != nil {
				return err
			}
			printJSON(outcome.Analysis)
			if !outcome.Succeeded {
				return fmt.Errorf("processing failed: %v", outcome.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&questionID, "question", "ielts-p1-hometown", "question id")
	cmd.Flags().IntVar(&recordSec, "seconds", 20, "seconds to record")
	cmd.Flags().StringVar(&outPath, "out", "", "also write the recording to this file")
	cmd.Flags().BoolVar(&saveAttempt, "save", false, "store the attempt in the database")
	return cmd
}

func newAttemptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List stored attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			db, err := store.Open(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open attempt store: %w", err)
			}
			defer db.Close()

			items, err := db.ListAttempts(cmd.Context(), questionID, listLimit)
			if err != nil {
				return err
			}
			for _, a := range items {
				fmt.Printf("%s  %-32s %-10s %5.1f  %s\n",
					a.CreatedAt.Local().Format("2006-01-02 15:04"), a.QuestionID, a.State, a.Analysis.OverallScore, a.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&questionID, "question", "", "only list attempts for this question")
	cmd.Flags().IntVar(&listLimit, "limit", 20, "maximum attempts to list")
	return cmd
}

func newNarrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "narrate <question-id>",
		Short: "Synthesize the read-aloud audio of a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			if services.Narrator == nil {
				return fmt.Errorf("朗读未启用，需要 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
			}
			q, ok := services.Questions.FindByID(args[0])
			if !ok {
				return fmt.Errorf("unknown question %q", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			audio, err := services.Narrator.Narrate(ctx, q)
			if err != nil {
				return err
			}
			path := outPath
			if path == "" {
				path = q.ID + ".mp3"
			}
			if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			log.Printf("朗读音频已保存: %s (%d bytes, %s)", path, len(audio.Data), audio.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default <question-id>.mp3)")
	return cmd
}

func bootstrap(ctx context.Context) (*app.Services, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("配置加载失败: %w", err)
	}
	services, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return services, cfg, nil
}

// waitForStop 等待自动停止或超时
func waitForStop(ctx context.Context, events <-chan practiceService.Event, limit time.Duration) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Snapshot != nil && ev.Snapshot.State == practice.StateStopped {
				return
			}
		}
	}
}

func insertAttempt(ctx context.Context, path string, attempt practice.Attempt) error {
	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open attempt store: %w", err)
	}
	defer db.Close()
	if err := db.InsertAttempt(ctx, attempt); err != nil {
		return err
	}
	log.Printf("已保存作答记录 %s", attempt.ID)
	return nil
}

func readBlob(path string) (practice.AudioBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return practice.AudioBlob{}, fmt.Errorf("打开音频文件失败: %w", err)
	}
	return practice.AudioBlob{Data: data, MIMEType: mimeFromExt(path)}, nil
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".opus":
		return capture.MIMEOggOpus
	case ".webm":
		return capture.MIMEWebmOpus
	case ".mp4", ".m4a":
		return capture.MIMEMP4
	case ".mp3":
		return "audio/mpeg"
	default:
		return capture.MIMEWAV
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("encode output: %v", err)
	}
}
