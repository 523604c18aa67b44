package cmd

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Environment variables read as flag defaults, optionally from a .env file.
const (
	envLogLevel = "USAGESIM_LOG"
	envOutDir   = "USAGESIM_OUT_DIR"
)

var (
	logLevel string // Log verbosity level

	// dotenvPath is the .env file loaded before any flag default is computed.
	dotenvPath = loadEnv()
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "usagesim",
	Short: "Synthetic AI-API usage simulator and cost analytics",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		if dotenvPath != "" {
			logrus.Debugf("loaded defaults from %s", dotenvPath)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads the first .env file found in the working directory or the
// user config directory and returns its path. Already set variables win.
func loadEnv() string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "usagesim", ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", getEnvString(envLogLevel, "warn"),
		"Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(scenariosCmd)
}
