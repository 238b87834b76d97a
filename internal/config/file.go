package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig 是 SPEAK_CONFIG 指向的 TOML 文件，环境变量优先于其中的值。
type FileConfig struct {
	Server struct {
		Port           string   `toml:"port"`
		AllowedOrigins []string `toml:"allowed-origins"`
	} `toml:"server"`
	Recorder struct {
		MaxDuration *int   `toml:"max-duration"`
		AutoStop    *bool  `toml:"auto-stop"`
		SampleRate  *int   `toml:"sample-rate"`
		FFmpeg      string `toml:"ffmpeg"`
	} `toml:"recorder"`
	Store struct {
		Path string `toml:"path"`
	} `toml:"store"`
	Questions struct {
		Bank string `toml:"bank"`
	} `toml:"questions"`
}

// LoadFile reads the TOML file at path. An empty path or a missing file yields
// the zero config.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
