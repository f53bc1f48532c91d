package config

import (
	"fmt"
	"os"

	"go-comfy-model-manager/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults returns the built-in configuration. comfy_path has no default;
// commands that need the layout tree fail without it.
func Defaults() models.Config {
	return models.Config{
		TopImageCount:       9,
		FetchBatchSize:      100,
		DownloadModel:       true,
		DownloadImages:      true,
		DownloadNsfw:        false,
		DownloadThreads:     4,
		ConcurrentDownloads: 1,
		CreateHtml:          true,
		AutoOpenHtml:        false,
		ApiClientTimeoutSec: 60,
	}
}

// LoadConfig reads the TOML configuration at configFilePath (defaulting to
// "config.toml") over the built-in defaults. A missing file is not an error;
// the defaults are returned.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}

	cfg := Defaults()
	if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
		log.Infof("Configuration file %s not found, using defaults", configFilePath)
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.ComfyPath == "" {
		log.Warnf("Warning: comfy_path is not set in %s", configFilePath)
	}
	if cfg.DownloadThreads <= 0 {
		cfg.DownloadThreads = 4
	}
	if cfg.TopImageCount <= 0 {
		cfg.TopImageCount = 9
	}
	if cfg.ConcurrentDownloads <= 0 {
		cfg.ConcurrentDownloads = 1
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}
