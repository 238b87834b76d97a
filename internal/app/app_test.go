package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/z-speak/backend/internal/capture"
	"github.com/zhouzirui/z-speak/backend/internal/config"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	"github.com/zhouzirui/z-speak/backend/internal/pipeline"
	"github.com/zhouzirui/z-speak/backend/internal/service/narration"
)

func TestLoadQuestionsFallsBackToSeed(t *testing.T) {
	store, err := LoadQuestions(config.QuestionsConfig{BankPath: filepath.Join(t.TempDir(), "missing.toml")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(store.List()) != len(question.Seed()) {
		t.Fatalf("expected seed questions, got %d", len(store.List()))
	}
}

func TestLoadQuestionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.toml")
	content := "[[question]]\nid = \"only\"\ntype = \"technical\"\nprompt = \"Explain caching.\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := LoadQuestions(config.QuestionsConfig{BankPath: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if items := store.List(); len(items) != 1 || items[0].ID != "only" {
		t.Fatalf("unexpected questions %+v", items)
	}
}

func TestBuildWithoutCredentialsDegrades(t *testing.T) {
	cfg := &config.Config{
		Transcription: config.TranscriptionConfig{Provider: "whisper"},
		Analysis:      config.AnalysisConfig{Provider: "openai"},
		Recorder:      config.RecorderConfig{MaxDuration: 60, AutoStop: true, SampleRate: 16000, FFmpeg: "ffmpeg"},
	}
	services, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if services.Analyzer != nil || services.Narrator != nil {
		t.Fatal("expected no analyzer or narrator without credentials")
	}

	var got practice.AnswerAnalysis
	outcome := services.Pipeline.Run(context.Background(), pipeline.Input{
		SessionID: "s1",
		Blob:      practice.AudioBlob{Data: []byte{1, 2, 3}, MIMEType: capture.MIMEWAV},
		Question:  question.Seed()[0],
		Duration:  3,
	}, pipeline.Callbacks{
		OnTranscription: func(practice.TranscriptionResult) {},
		OnAnalysis:      func(a practice.AnswerAnalysis) { got = a },
	})
	if outcome.Succeeded || !got.Failed {
		t.Fatalf("expected a failed analysis, got %+v", got)
	}

	pc := services.PracticeConfig(cfg.Recorder)
	if pc.MaxDuration != 60 || pc.Constraints.SampleRate != 16000 {
		t.Fatalf("unexpected practice config %+v", pc)
	}
}

func TestEncodersForVolcengine(t *testing.T) {
	encoders := encodersFor("volcengine", "ffmpeg")
	if len(encoders) != 1 || encoders[0].MIMEType() != capture.MIMEOggOpus {
		t.Fatalf("expected only ogg opus, got %d encoders", len(encoders))
	}
	if len(encodersFor("whisper", "ffmpeg")) != 4 {
		t.Fatal("expected every compressed encoder for whisper")
	}
}

func TestBuildEnablesNarration(t *testing.T) {
	cfg := &config.Config{
		Transcription: config.TranscriptionConfig{Provider: "volcengine", VolcAppID: "app", VolcAccessToken: "token"},
		Analysis:      config.AnalysisConfig{Provider: "openai"},
		Recorder:      config.RecorderConfig{SampleRate: 16000, FFmpeg: "ffmpeg"},
		Narration:     config.NarrationConfig{Config: narration.Config{AppID: "app", AccessToken: "token"}},
	}
	services, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if services.Narrator == nil {
		t.Fatal("expected narrator when speech credentials are set")
	}
	if services.Transcriber.Backend() != "volcengine" {
		t.Fatalf("unexpected backend %q", services.Transcriber.Backend())
	}
}
