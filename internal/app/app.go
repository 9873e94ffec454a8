// Package app wires the device from its configuration and runs it until the
// context ends.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"airquality-node/internal/capability"
	"airquality-node/internal/clockgate"
	"airquality-node/internal/config"
	"airquality-node/internal/db"
	"airquality-node/internal/device"
	"airquality-node/internal/diagnostics"
	"airquality-node/internal/display"
	"airquality-node/internal/httpapi"
	"airquality-node/internal/metrics"
	"airquality-node/internal/migrate"
	"airquality-node/internal/mqtt"
	"airquality-node/internal/scheduler"
	"airquality-node/internal/sensor"
	"airquality-node/internal/sensor/i2cbus"
	"airquality-node/internal/sink"
)

const (
	linkProbeInterval = 5 * time.Second
	updateBuffer      = 8
	mqttQoS           = 1
)

// Run boots the device described by cfg. It returns nil when ctx is
// cancelled, or when the terminal display is quit.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	dev := cfg.Device
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mask, conflicts := capability.Resolve(dev)
	for _, c := range conflicts {
		logger.Warn("capability forced off", "flag", c.Flag, "reason", c.Reason)
	}
	logger.Info("initializing device",
		"climate", mask.TemperatureHumidity,
		"pm2_5", mask.Particulate,
		"co2", mask.CO2,
		"wifi", mask.WiFi,
		"influx", mask.Influx,
		"mqtt", mask.MQTT,
	)

	var cleanup []func()
	defer func() {
		cancel()
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	hw := openSensors(mask, dev.Sensors, i2cbus.NewRegistry(), logger)
	cleanup = append(cleanup, func() {
		if err := hw.Close(); err != nil {
			logger.Warn("sensor close failed", "error", err)
		}
	})
	aggregator := sensor.NewAggregator(mask, hw.sources, sensor.Options{
		TempOffset: dev.TempOffset,
		Timeout:    dev.SensorTimeout,
		OnFailure: func(kind sensor.Kind, err error) {
			logger.Debug("sensor read failed", "kind", kind.String(), "error", err)
		},
	})

	m := metrics.New()
	recorder, reader, sqlDB, err := openDiagnostics(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if j, ok := reader.(*diagnostics.Journal); ok {
		cleanup = append(cleanup, func() {
			j.Close()
			_ = db.Close(sqlDB)
		})
	}

	var wg sync.WaitGroup
	cleanup = append(cleanup, wg.Wait)
	updates := make(chan clockgate.Update, updateBuffer)
	if mask.WiFi {
		ntpProbe := clockgate.NewNTPProbe(dev.NTPServer, dev.NTPSyncInterval, dev.NTPResyncFailures, logger)
		linkProbe := clockgate.NewLinkProbe(dev.WiFi.Interface, linkProbeInterval)
		wg.Add(2)
		go func() { defer wg.Done(); ntpProbe.Run(ctx, updates) }()
		go func() { defer wg.Done(); linkProbe.Run(ctx, updates) }()
	} else {
		logger.Info("wifi disabled; clock and link stay down")
	}

	intervals := map[scheduler.Activity]uint{scheduler.Display: dev.Display.Interval}
	opts := device.Options{
		Logger:       logger,
		Gate:         &clockgate.Gate{},
		Updates:      updates,
		Sensors:      aggregator,
		Presenter:    display.NewPresenter(dev.Name, dev.Display.Fahrenheit, dev.Timezone),
		Recorder:     recorder,
		Instruments:  m,
		TickInterval: cfg.TickInterval,
	}

	if mask.Influx {
		influx := sink.NewInflux(sink.InfluxOptions{
			URL:         dev.InfluxDB.URL,
			Token:       dev.InfluxDB.Token,
			Org:         dev.InfluxDB.Org,
			Bucket:      dev.InfluxDB.Bucket,
			Measurement: dev.InfluxDB.Measurement,
			Device:      dev.Name,
			Timeout:     dev.InfluxDB.Timeout,
		})
		cleanup = append(cleanup, influx.Close)
		opts.Influx = influx
		intervals[scheduler.Influx] = dev.InfluxDB.Interval
	}
	if mask.MQTT {
		mo := mqtt.Options{
			Broker:   dev.MQTT.Broker,
			Port:     dev.MQTT.Port,
			ClientID: dev.MQTT.ClientID,
			Timeout:  dev.MQTT.Timeout,
			QoS:      mqttQoS,
		}
		if mask.MQTTAuth {
			mo.Username, mo.Password = dev.MQTT.Username, dev.MQTT.Password
		}
		client := mqtt.NewClient(mo, logger)
		cleanup = append(cleanup, client.Disconnect)
		opts.MQTT = sink.NewMQTT(sink.MQTTOptions{
			Device:          dev.Name,
			TopicPrefix:     dev.MQTT.TopicPrefix,
			RequireTimeSync: dev.MQTT.RequireTimeSync,
		}, client)
		intervals[scheduler.MQTT] = dev.MQTT.Interval
	}
	opts.Scheduler = scheduler.New(intervals)

	target, err := openDisplay(ctx, dev.Display.Target, cancel)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() {
		if err := target.Close(); err != nil {
			logger.Warn("display close failed", "error", err)
		}
	})
	opts.Display = target

	loop := device.New(opts)

	if cfg.HTTPAddr != "" {
		mux := httpapi.NewMux(httpapi.Deps{
			Device: dev.Name,
			Status: func() httpapi.Status {
				h := loop.Health()
				return httpapi.Status{State: h.State.String(), TimeValid: h.TimeValid, LinkUp: h.LinkUp}
			},
			Reading:     loop,
			Diagnostics: reader,
			DB:          sqlDB,
			Metrics:     m.Handler(),
		})
		srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("status api listening", "addr", cfg.HTTPAddr)
			if err := httpapi.Serve(ctx, srv); err != nil {
				logger.Error("status api failed", "error", err)
			}
		}()
	}

	err = loop.Run(ctx)
	logger.Info("device shutting down")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// openDiagnostics always logs events. With a diagnostics path it also keeps
// them in the sqlite journal, which is returned as the reader.
func openDiagnostics(ctx context.Context, cfg config.Config, logger *slog.Logger) (diagnostics.Recorder, diagnostics.Reader, *sql.DB, error) {
	log := diagnostics.Logger{L: logger}
	if cfg.DiagnosticsPath == "" {
		return log, nil, nil, nil
	}

	conn, err := OpenJournalDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	j := diagnostics.NewJournal(conn, diagnostics.JournalOptions{Logger: logger})
	return diagnostics.Multi{log, j}, j, conn, nil
}

// OpenJournalDB opens the diagnostics database and applies migrations.
func OpenJournalDB(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	opts := db.Options{Path: cfg.DiagnosticsPath}
	if cfg.LogLevel <= slog.LevelDebug {
		opts.Logger = logger
	}
	conn, err := db.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics journal: %w", err)
	}
	if _, err := migrate.Run(ctx, conn, logger); err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("migrate diagnostics journal: %w", err)
	}
	return conn, nil
}

func openDisplay(ctx context.Context, target string, quit func()) (display.Target, error) {
	switch target {
	case config.TargetStdout:
		return display.NewWriter(os.Stdout), nil
	case config.TargetTUI:
		return display.NewTerminal(ctx, quit), nil
	case config.TargetNone:
		return display.None{}, nil
	default:
		return nil, fmt.Errorf("unknown display target %q", target)
	}
}
