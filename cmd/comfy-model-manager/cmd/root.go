package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-comfy-model-manager/internal/api"
	"go-comfy-model-manager/internal/config"
	"go-comfy-model-manager/internal/models"
)

var (
	cfgFile       string
	comfyPathFlag string
	logApiFlag    bool
	logLevel      string
	logFormat     string

	// globalConfig holds the loaded configuration
	globalConfig models.Config

	// globalHttpTransport is the shared transport, optionally wrapped with
	// API request logging.
	globalHttpTransport http.RoundTripper
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "comfy-model-manager",
	Short: "Download and manage models for a ComfyUI tree",
	Long: `Comfy Model Manager downloads models and their preview galleries from
Civitai into a ComfyUI-style directory tree, and manages what is on disk:
scanning, duplicates, orphans, search and export.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&comfyPathFlag, "comfy-path", "", "Root of the model layout tree (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	// Environment fallbacks for values the config leaves empty, e.g. CMM_API_KEY.
	viper.SetEnvPrefix("CMM")
	viper.AutomaticEnv()
}

// loadGlobalConfig loads the configuration, applies flag overrides and
// environment fallbacks, and prepares the shared HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	setupLogging()

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal here; commands fail later on the fields they need.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
		globalConfig = config.Defaults()
	}

	if cmd.Flags().Changed("comfy-path") && comfyPathFlag != "" {
		globalConfig.ComfyPath = comfyPathFlag
		log.Debugf("Overriding comfy_path from flag: %s", comfyPathFlag)
	}
	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
	}
	if key := viper.GetString("api_key"); key != "" && globalConfig.ApiKey == "" {
		globalConfig.ApiKey = key
		log.Debug("Using API key from environment")
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := "api.log"
		if globalConfig.ComfyPath != "" {
			if _, statErr := os.Stat(globalConfig.ComfyPath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.ComfyPath, logFilePath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, ltErr := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if ltErr != nil {
			log.WithError(ltErr).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}

func setupLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if logFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
