// Command images-to-pdf turns the images of a directory into a single PDF named
// after today's date, one image per page, oldest image first.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/book-expert/images-to-pdf/internal/imagepdf"
)

const (
	keyThreshold = "threshold"
	keyLogsDir   = "logs_dir"
)

// settings holds the values read from the config file and environment.
type settings struct {
	LogsDir   string
	Threshold int
}

// rootCmd is the only command: images-to-pdf <dir>.
var rootCmd = &cobra.Command{
	Use:   "images-to-pdf <dir>",
	Short: "Combine the JPEG, PNG and HEIC images of a directory into one dated PDF",
	Long: `images-to-pdf lists the JPEG, PNG and HEIC files of a directory, oldest first,
converts HEIC files to JPEG with an external tool, shrinks large images in place
and writes one page per image to YYYY-MM-DD.pdf in the working directory.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), viper.GetViper(), args[0])
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./images-to-pdf.toml or ~/.config/images-to-pdf/images-to-pdf.toml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("images-to-pdf")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "images-to-pdf"))
		}
	}

	viper.SetEnvPrefix("IMAGES_TO_PDF")
	viper.AutomaticEnv()
}

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main logic function, separated from main to allow for easier testing and
// clean exit handling.
func run(ctx context.Context, cfg *viper.Viper, inputDir string) error {
	conf, err := loadSettings(cfg)
	if err != nil {
		return err
	}

	log, err := setupLogger(conf.LogsDir)
	if err != nil {
		return fmt.Errorf("could not set up logger: %w", err)
	}

	defer func() {
		cerr := log.Close()
		if cerr != nil {
			_, _ = fmt.Fprintf(
				os.Stderr,
				"failed to close logger: %v\n",
				cerr,
			)
		}
	}()

	if used := cfg.ConfigFileUsed(); used != "" {
		log.Info("Using config file %s", used)
	}

	runID := uuid.NewString()
	log.Info("Run %s: converting images in %s (threshold %d px)", runID, inputDir, conf.Threshold)

	processor := imagepdf.NewProcessor(&imagepdf.Options{
		ProgressBarOutput: os.Stderr,
		Now:               time.Now,
		InputPath:         inputDir,
		OutputDir:         ".",
		Threshold:         conf.Threshold,
	}, log)

	outputPath, procErr := processor.Process(ctx)
	if procErr != nil {
		log.Error("Run %s failed: %v", runID, procErr)

		return fmt.Errorf("PDF assembly failed: %w", procErr)
	}

	fmt.Fprintln(os.Stdout, outputPath)

	return nil
}

// loadSettings reads the config file, if any, and applies defaults. A missing config
// file is not an error.
func loadSettings(cfg *viper.Viper) (settings, error) {
	cfg.SetDefault(keyThreshold, imagepdf.DefaultThreshold)
	cfg.SetDefault(keyLogsDir, filepath.Join(os.TempDir(), "images-to-pdf", "logs"))

	readErr := cfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return settings{}, fmt.Errorf("error loading config file: %w", readErr)
		}
	}

	conf := settings{
		LogsDir:   cfg.GetString(keyLogsDir),
		Threshold: cfg.GetInt(keyThreshold),
	}

	if conf.Threshold <= 0 {
		return settings{}, fmt.Errorf("%w, got %d", imagepdf.ErrInvalidThreshold, conf.Threshold)
	}

	return conf, nil
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(logDir string) (*logger.Logger, error) {
	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}
