package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-speak/backend/internal/service/narration"
	"github.com/zhouzirui/z-speak/backend/internal/service/transcription"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	Transcription TranscriptionConfig
	Analysis      AnalysisConfig
	Recorder      RecorderConfig
	Narration     NarrationConfig
	Store         StoreConfig
	Questions     QuestionsConfig
}

// Load 读取可选的 TOML 文件（SPEAK_CONFIG），再用环境变量覆盖。
func Load() (*Config, error) {
	file, err := LoadFile(strings.TrimSpace(os.Getenv("SPEAK_CONFIG")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(file)
	if err != nil {
		return nil, err
	}

	transcribe, err := loadTranscriptionConfig()
	if err != nil {
		return nil, err
	}

	analysis, err := loadAnalysisConfig()
	if err != nil {
		return nil, err
	}

	recorder, err := loadRecorderConfig(file)
	if err != nil {
		return nil, err
	}

	narration, err := loadNarrationConfig(transcribe)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		Transcription: transcribe,
		Analysis:      analysis,
		Recorder:      recorder,
		Narration:     narration,
		Store:         StoreConfig{Path: firstNonEmpty(os.Getenv("SPEAK_DB_PATH"), file.Store.Path, "data/speak.db")},
		Questions:     QuestionsConfig{BankPath: firstNonEmpty(os.Getenv("QUESTION_BANK"), file.Questions.Bank)},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig(file FileConfig) (ServerConfig, error) {
	port := firstNonEmpty(os.Getenv("PORT"), file.Server.Port, "8080")

	origins := splitList(os.Getenv("ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = file.Server.AllowedOrigins
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// TranscriptionConfig 描述语音转写服务。
type TranscriptionConfig struct {
	Provider string // whisper | volcengine
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration

	VolcAppID       string
	VolcAccessToken string
	VolcEndpoint    string
	VolcConcurrent  bool
}

// Enabled 表示是否提供了所选服务的凭证。
func (c TranscriptionConfig) Enabled() bool {
	switch c.Provider {
	case "volcengine":
		return c.VolcAppID != "" && c.VolcAccessToken != ""
	default:
		return c.APIKey != ""
	}
}

// NewBackend 根据 Provider 创建转写后端。
func (c TranscriptionConfig) NewBackend(sampleRate int) (transcription.Backend, error) {
	switch c.Provider {
	case "volcengine":
		return transcription.NewVolcengine(transcription.VolcengineConfig{
			AppID:       c.VolcAppID,
			AccessToken: c.VolcAccessToken,
			Endpoint:    c.VolcEndpoint,
			Concurrent:  c.VolcConcurrent,
			SampleRate:  sampleRate,
		})
	case "whisper", "":
		return transcription.NewWhisper(transcription.WhisperConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
		})
	default:
		return nil, fmt.Errorf("unknown TRANSCRIBE_PROVIDER %q", c.Provider)
	}
}

func loadTranscriptionConfig() (TranscriptionConfig, error) {
	timeout, err := parseDurationEnv("TRANSCRIBE_TIMEOUT", 60*time.Second)
	if err != nil {
		return TranscriptionConfig{}, err
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT", false)
	if err != nil {
		return TranscriptionConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("TRANSCRIBE_PROVIDER", "whisper"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return TranscriptionConfig{
		Provider:        provider,
		APIKey:          firstNonEmpty(os.Getenv("TRANSCRIBE_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		BaseURL:         getEnvOrDefault("TRANSCRIBE_BASE_URL", "https://api.openai.com/v1"),
		Model:           getEnvOrDefault("TRANSCRIBE_MODEL", "whisper-1"),
		Language:        getEnvOrDefault("TRANSCRIBE_LANGUAGE", "en-US"),
		Timeout:         timeout,
		VolcAppID:       strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		VolcAccessToken: accessToken,
		VolcEndpoint:    getEnvOrDefault("SPEECH_ASR_ENDPOINT", ""),
		VolcConcurrent:  concurrent,
	}, nil
}

// AnalysisConfig 描述评分所用的大模型。
type AnalysisConfig struct {
	Provider    string // openai | gemini | ark
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration
}

const geminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Enabled 表示是否提供了必需的密钥。
func (c AnalysisConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == "ark" {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AnalysisConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失，需要 ANALYSIS_API_KEY 与 ANALYSIS_MODEL", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	switch c.Provider {
	case "ark":
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	case "openai", "gemini":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return nil, fmt.Errorf("unknown ANALYSIS_PROVIDER %q", c.Provider)
	}
}

func loadAnalysisConfig() (AnalysisConfig, error) {
	temperature, err := parseOptionalFloatEnv("ANALYSIS_TEMPERATURE")
	if err != nil {
		return AnalysisConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ANALYSIS_TOP_P")
	if err != nil {
		return AnalysisConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ANALYSIS_MAX_TOKENS")
	if err != nil {
		return AnalysisConfig{}, err
	}

	timeout, err := parseDurationEnv("ANALYSIS_TIMEOUT", 90*time.Second)
	if err != nil {
		return AnalysisConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("ANALYSIS_PROVIDER", "openai"))
	cfg := AnalysisConfig{
		Provider:    provider,
		APIKey:      strings.TrimSpace(os.Getenv("ANALYSIS_API_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ANALYSIS_MODEL")),
		BaseURL:     strings.TrimSpace(os.Getenv("ANALYSIS_BASE_URL")),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}

	switch provider {
	case "openai":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, "gpt-4o-mini")
	case "gemini":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, "gemini-2.0-flash")
		cfg.BaseURL = firstNonEmpty(cfg.BaseURL, geminiOpenAIBaseURL)
	case "ark":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, os.Getenv("Model"))
		cfg.BaseURL = firstNonEmpty(cfg.BaseURL, "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	default:
		return AnalysisConfig{}, fmt.Errorf("invalid ANALYSIS_PROVIDER value %q", provider)
	}
	return cfg, nil
}

// RecorderConfig 录音状态机与采集默认值。
type RecorderConfig struct {
	MaxDuration int // seconds
	AutoStop    bool
	SampleRate  int
	FFmpeg      string
}

func loadRecorderConfig(file FileConfig) (RecorderConfig, error) {
	cfg := RecorderConfig{
		MaxDuration: 120,
		AutoStop:    true,
		SampleRate:  16000,
		FFmpeg:      "ffmpeg",
	}
	if file.Recorder.MaxDuration != nil {
		cfg.MaxDuration = *file.Recorder.MaxDuration
	}
	if file.Recorder.AutoStop != nil {
		cfg.AutoStop = *file.Recorder.AutoStop
	}
	if file.Recorder.SampleRate != nil {
		cfg.SampleRate = *file.Recorder.SampleRate
	}
	if file.Recorder.FFmpeg != "" {
		cfg.FFmpeg = file.Recorder.FFmpeg
	}

	if v, err := parseOptionalIntEnv("RECORDER_MAX_DURATION"); err != nil {
		return RecorderConfig{}, err
	} else if v != nil {
		cfg.MaxDuration = *v
	}

	autoStop, err := parseBoolEnv("RECORDER_AUTO_STOP", cfg.AutoStop)
	if err != nil {
		return RecorderConfig{}, err
	}
	cfg.AutoStop = autoStop

	if v, err := parseOptionalIntEnv("RECORDER_SAMPLE_RATE"); err != nil {
		return RecorderConfig{}, err
	} else if v != nil {
		cfg.SampleRate = *v
	}
	cfg.FFmpeg = getEnvOrDefault("RECORDER_FFMPEG", cfg.FFmpeg)

	if cfg.MaxDuration < 0 {
		return RecorderConfig{}, fmt.Errorf("invalid RECORDER_MAX_DURATION value %d", cfg.MaxDuration)
	}
	if cfg.SampleRate <= 0 {
		return RecorderConfig{}, fmt.Errorf("invalid RECORDER_SAMPLE_RATE value %d", cfg.SampleRate)
	}
	return cfg, nil
}

// NarrationConfig 题目朗读（火山引擎 TTS），凭证与 SPEECH_* 共用。
type NarrationConfig struct {
	Disabled bool
	narration.Config
}

// Enabled 表示朗读功能已开启且凭证齐全。
func (c NarrationConfig) Enabled() bool {
	return !c.Disabled && c.AppID != "" && c.AccessToken != ""
}

func loadNarrationConfig(transcribe TranscriptionConfig) (NarrationConfig, error) {
	enabled, err := parseBoolEnv("NARRATION_ENABLED", true)
	if err != nil {
		return NarrationConfig{}, err
	}
	speed, err := parseOptionalFloatEnv("SPEECH_TTS_SPEED")
	if err != nil {
		return NarrationConfig{}, err
	}
	volume, err := parseOptionalFloatEnv("SPEECH_TTS_VOLUME")
	if err != nil {
		return NarrationConfig{}, err
	}

	cfg := NarrationConfig{
		Disabled: !enabled,
		Config: narration.Config{
			AppID:       transcribe.VolcAppID,
			AccessToken: transcribe.VolcAccessToken,
			Endpoint:    getEnvOrDefault("SPEECH_TTS_ENDPOINT", ""),
			Voice:       getEnvOrDefault("SPEECH_TTS_VOICE", ""),
			Language:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", ""),
		},
	}
	if speed != nil {
		if *speed <= 0 {
			return NarrationConfig{}, fmt.Errorf("invalid SPEECH_TTS_SPEED value %v", *speed)
		}
		cfg.Speed = float32(*speed)
	}
	if volume != nil {
		if *volume <= 0 {
			return NarrationConfig{}, fmt.Errorf("invalid SPEECH_TTS_VOLUME value %v", *volume)
		}
		cfg.Volume = float32(*volume)
	}
	return cfg, nil
}

// StoreConfig 练习记录数据库。
type StoreConfig struct {
	Path string
}

// QuestionsConfig 题库来源，为空时使用内置题目。
type QuestionsConfig struct {
	BankPath string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go duration（"90s"）或纯秒数（"90"）。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
