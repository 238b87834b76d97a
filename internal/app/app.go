// Package app assembles the practice services from configuration. It is shared
// by the HTTP server, the terminal client and the operator tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/zhouzirui/z-speak/backend/internal/capture"
	"github.com/zhouzirui/z-speak/backend/internal/config"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	"github.com/zhouzirui/z-speak/backend/internal/pipeline"
	"github.com/zhouzirui/z-speak/backend/internal/service/analysis"
	"github.com/zhouzirui/z-speak/backend/internal/service/narration"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
	"github.com/zhouzirui/z-speak/backend/internal/service/transcription"
)

// Services 由配置构建出的核心服务。Analyzer 为 nil 表示未配置模型，Narrator 同理。
type Services struct {
	Questions   *question.MemoryStore
	Transcriber *transcription.Client
	Analyzer    *analysis.Service
	Pipeline    *pipeline.Orchestrator
	Narrator    *narration.Narrator
	Encoders    []capture.Encoder
}

// LoadQuestions 读取题库文件，未配置或文件缺失时使用内置题目。
func LoadQuestions(cfg config.QuestionsConfig) (*question.MemoryStore, error) {
	if cfg.BankPath == "" {
		return question.NewMemoryStore(question.Seed()), nil
	}
	items, err := question.LoadFile(cfg.BankPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[app] question bank %s not found, using built-in questions", cfg.BankPath)
		return question.NewMemoryStore(question.Seed()), nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[app] loaded %d questions from %s", len(items), cfg.BankPath)
	return question.NewMemoryStore(items), nil
}

// Build wires transcription, analysis and the orchestrator. Missing
// credentials degrade the pipeline instead of failing: recordings still work
// and processing reports a failed analysis.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	questions, err := LoadQuestions(cfg.Questions)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	var backend transcription.Backend
	if cfg.Transcription.Enabled() {
		backend, err = cfg.Transcription.NewBackend(cfg.Recorder.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("init transcription backend: %w", err)
		}
		log.Printf("[app] transcription backend %s ready", backend.Name())
	} else {
		log.Printf("[app] 转写服务凭证未配置 (provider=%s)，处理录音时将返回失败结果", cfg.Transcription.Provider)
	}
	transcriber := transcription.NewClient(backend, transcription.Options{
		Language: cfg.Transcription.Language,
		Timeout:  cfg.Transcription.Timeout,
	})

	services := &Services{
		Questions:   questions,
		Transcriber: transcriber,
		Encoders:    encodersFor(cfg.Transcription.Provider, cfg.Recorder.FFmpeg),
	}

	// nil 接口与 nil 指针需要区分
	var analyzer pipeline.Analyzer
	if cfg.Analysis.Enabled() {
		chatModel, err := cfg.Analysis.NewChatModel(ctx)
		if err != nil {
			log.Printf("[app] warning: failed to initialize chat model: %v", err)
		} else if svc, err := analysis.NewService(ctx, chatModel); err != nil {
			log.Printf("[app] warning: failed to initialize analysis service: %v", err)
		} else {
			services.Analyzer = svc
			analyzer = svc
			log.Printf("[app] analysis service ready provider=%s model=%s", cfg.Analysis.Provider, cfg.Analysis.Model)
		}
	} else {
		log.Printf("[app] 分析模型未配置 (provider=%s)，跳过 AI 评分", cfg.Analysis.Provider)
	}

	if cfg.Narration.Enabled() {
		narrator, err := narration.New(cfg.Narration.Config)
		if err != nil {
			log.Printf("[app] warning: failed to initialize narration: %v", err)
		} else {
			services.Narrator = narrator
			log.Printf("[app] question narration ready voice=%s", firstVoice(cfg.Narration.Voice))
		}
	}

	services.Pipeline = pipeline.New(transcriber, analyzer, pipeline.Options{
		TranscriptionTimeout: cfg.Transcription.Timeout,
		AnalysisTimeout:      cfg.Analysis.Timeout,
	})
	return services, nil
}

// PracticeConfig derives session defaults from the recorder settings.
func (s *Services) PracticeConfig(cfg config.RecorderConfig) practiceService.Config {
	constraints := capture.DefaultConstraints()
	constraints.SampleRate = cfg.SampleRate
	return practiceService.Config{
		MaxDuration: cfg.MaxDuration,
		AutoStop:    cfg.AutoStop,
		Constraints: constraints,
		Encoders:    s.Encoders,
		FFmpeg:      cfg.FFmpeg,
	}
}

// encodersFor limits compressed containers to what the backend accepts.
// Volcengine only takes Ogg Opus among them; WAV stays the fallback.
func encodersFor(provider, ffmpeg string) []capture.Encoder {
	if provider != "volcengine" {
		return capture.FFmpegEncoders(ffmpeg)
	}
	enc, err := capture.NewFFmpegEncoder(ffmpeg, capture.MIMEOggOpus)
	if err != nil {
		return nil
	}
	return []capture.Encoder{enc}
}

func firstVoice(v string) string {
	if v == "" {
		return "default"
	}
	return v
}
