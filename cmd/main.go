package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"airquality-node/internal/app"
	"airquality-node/internal/capability"
	"airquality-node/internal/config"
	"airquality-node/internal/logging"
	"airquality-node/internal/migrate"
)

var version = "dev"
var appName = "airquality-node"

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "validate":
		err = validateCommand(args)
	case "migrate":
		err = migrateCommand(args)
	case "help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", appName, cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `usage: %s [command] [-device path]

commands:
  run       start the device loop (default)
  validate  load and check the device configuration, then exit
  migrate   apply diagnostics journal migrations, then exit
`, appName)
}

// loadConfig parses the shared -device flag, which overrides DEVICE_CONFIG.
func loadConfig(name string, args []string) (config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	devicePath := fs.String("device", "", "path to the device YAML (overrides DEVICE_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if *devicePath != "" {
		if err := os.Setenv("DEVICE_CONFIG", *devicePath); err != nil {
			return config.Config{}, err
		}
	}
	return config.LoadFromEnv()
}

func runCommand(args []string) error {
	cfg, err := loadConfig("run", args)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"device_config", cfg.DeviceConfigPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("shutting down")
	return nil
}

func validateCommand(args []string) error {
	cfg, err := loadConfig("validate", args)
	if err != nil {
		return err
	}
	mask, conflicts := capability.Resolve(cfg.Device)
	for _, c := range conflicts {
		fmt.Printf("warning: %s forced off: %s\n", c.Flag, c.Reason)
	}
	fmt.Printf("device %q ok: climate=%t pm2_5=%t co2=%t wifi=%t influx=%t mqtt=%t\n",
		cfg.Device.Name, mask.TemperatureHumidity, mask.Particulate, mask.CO2,
		mask.WiFi, mask.Influx, mask.MQTT)
	return nil
}

func migrateCommand(args []string) error {
	cfg, err := loadConfig("migrate", args)
	if err != nil {
		return err
	}
	if cfg.DiagnosticsPath == "" {
		return errors.New("DIAGNOSTICS_PATH is not set")
	}
	logger := logging.New(cfg, version, appName)

	ctx := context.Background()
	conn, err := app.OpenJournalDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	status, err := migrate.Status(ctx, conn)
	if err != nil {
		return err
	}
	for _, m := range status {
		fmt.Printf("%s_%s applied=%t\n", m.Version, m.Name, m.Applied)
	}
	return nil
}
