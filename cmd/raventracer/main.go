package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/raven-tracer/internal/config"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", "raven.toml", "path to the TOML configuration file")
	verbose := pflag.BoolP("verbose", "v", false, "log at debug level")
	showVersion := pflag.BoolP("version", "V", false, "print the version and exit")
	listDevices := pflag.Bool("list", false, "list registered ravens and smart meters and exit")
	rename := pflag.String("rename", "", "set a device nickname as MAC=NICK (empty NICK clears it) and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("raventracer %s\n", version)
		return
	}

	loadEnvFile()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	opts := cliOptions{ConfigPath: *configPath, Verbose: *verbose}

	if cmd := (deviceCommand{List: *listDevices, Rename: *rename}); cmd.requested() {
		os.Exit(runDevices(cfg, opts, cmd))
	}

	app := fx.New(
		fx.Supply(cfg, opts),
		fx.Provide(
			newLogger,
			ProvideSerialPort,
			ProvideFramer,
			ProvideDecoder,
			ProvideStore,
			ProvideRegistries,
			ProvideValidator,
			ProvideAnomalyWindow,
			ProvideSessionLogger,
			ProvideSinks,
			ProvidePipeline,
		),
		fx.Invoke(startTracer),
	)

	startupLogger, _ := newLogger(cfg, opts)
	startupLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			startupLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means the serial port or the database is not accessible. Check the error messages above for specific failures.")
		}
		startupLogger.Error("application failed to start", zap.Error(err))
		os.Exit(1)
	}

	// interrupt, SIGTERM, or the pipeline finishing on its own
	signal := <-app.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}

	os.Exit(signal.ExitCode)
}

// runDevices starts only the store and registries, runs cmd and stops
func runDevices(cfg *config.Config, opts cliOptions, cmd deviceCommand) int {
	app := fx.New(
		fx.Supply(cfg, opts),
		fx.Provide(
			newLogger,
			ProvideStore,
			ProvideRegistries,
		),
		fx.Invoke(invokeDeviceCommand(cmd, os.Stdout)),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// a failed Start has already stopped whatever it started
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "device command failed: %v\n", err)
		return 1
	}
	if err := app.Stop(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping app: %v\n", err)
	}
	return 0
}

// loadEnvFile loads the first .env found in the working directory or up to
// two parents. A missing file is fine under a process supervisor.
func loadEnvFile() {
	envPaths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}

	fmt.Println("No .env file found, using system environment variables")
}
