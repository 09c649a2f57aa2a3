package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/visiona/lookout/internal/capture"
	"github.com/visiona/lookout/internal/config"
	"github.com/visiona/lookout/internal/core"
)

const defaultConfigPath = "config/lookout.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	imagePath := flag.String("image", "", "Annotate a single image and exit")
	camera := flag.Bool("camera", false, "Stream from the configured camera device")
	mock := flag.Bool("mock", false, "Stream synthetic frames (no camera needed)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if *imagePath != "" && (*camera || *mock) {
		fmt.Fprintln(os.Stderr, "flags -image and -camera/-mock are mutually exclusive")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting lookout",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"debug", *debug,
	)

	if *imagePath != "" {
		runSingleImage(cfg, *imagePath)
		return
	}

	var source capture.Source
	switch {
	case *camera:
		source = capture.NewWebcamSource(cfg.Camera.Device)
	case *mock:
		source = capture.NewMockSource(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	default:
		fmt.Fprintln(os.Stderr, "one of -image, -camera or -mock is required")
		os.Exit(1)
	}

	app, err := core.New(cfg, source)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()
		if err := <-errChan; err != nil {
			slog.Error("stream error", "error", err)
			os.Exit(1)
		}
	case err := <-errChan:
		if err != nil {
			slog.Error("stream error", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("lookout stopped")
}

// loadConfig reads the config file, falling back to built-in defaults
// when the default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if path == defaultConfigPath && os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return config.Load(path)
}

// runSingleImage annotates one image. When the file cannot be opened
// it prompts for another path on stdin instead of exiting.
func runSingleImage(cfg *config.Config, path string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		out, err := core.RunOnce(context.Background(), cfg, path)
		if err == nil {
			fmt.Printf("annotated image written to %s\n", out)
			return
		}
		if !errors.Is(err, capture.ErrCaptureUnavailable) {
			slog.Error("annotating image failed", "error", err)
			os.Exit(1)
		}

		fmt.Printf("cannot open %s, enter another image path (blank to quit): ", path)
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			os.Exit(1)
		}
		path = strings.TrimSpace(line)
		if path == "" {
			os.Exit(1)
		}
	}
}
