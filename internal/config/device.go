package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"airquality-node/internal/tz"
)

// Placeholder is the prefix the device template uses for values that must be
// filled in before deployment.
const Placeholder = "REPLACE_WITH_"

const (
	defaultInterval      = 30
	defaultTempOffset    = 2.0
	defaultNTPServer     = "time.nist.gov"
	defaultTimezone      = "EST+5EDT,M3.2.0/2,M11.1.0/2"
	defaultMeasurement   = "air_quality"
	defaultTopicPrefix   = "airquality"
	defaultMQTTPort      = 1883
	defaultSinkTimeout   = 2 * time.Second
	defaultSensorTimeout = 250 * time.Millisecond
	defaultNTPSync       = 15 * time.Minute
	defaultNTPFailures   = 3
)

// Display targets.
const (
	TargetStdout = "stdout"
	TargetTUI    = "tui"
	TargetNone   = "none"
)

// Device is the immutable description of one monitoring node. It is built once
// at boot and passed by reference to every component.
type Device struct {
	Name      string
	Timezone  *tz.Zone
	TZRule    string
	NTPServer string
	// NTPSyncInterval is the period between successful time syncs.
	NTPSyncInterval time.Duration
	// NTPResyncFailures consecutive failures before a valid clock is dropped.
	NTPResyncFailures int

	WiFi     WiFi
	InfluxDB InfluxDB
	MQTT     MQTT
	Display  Display
	Sensors  Sensors

	// TempOffset is subtracted from every raw temperature, in degrees Celsius.
	TempOffset    float64
	SensorTimeout time.Duration
}

type WiFi struct {
	Enabled  bool
	SSID     string
	Password string
	// Interface is the network interface probed for link state; empty probes
	// any non-loopback interface.
	Interface string
}

type InfluxDB struct {
	Enabled     bool
	Interval    uint
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration
}

type MQTT struct {
	Enabled         bool
	Interval        uint
	Broker          string
	Port            int
	Authentication  bool
	Username        string
	Password        string
	TopicPrefix     string
	ClientID        string
	Timeout         time.Duration
	RequireTimeSync bool
}

type Display struct {
	Interval   uint
	Fahrenheit bool
	Target     string
}

type Sensors struct {
	Climate     Sensor
	Particulate Sensor
	CO2         Sensor
}

// Sensor selects and locates the driver for one sensor kind.
type Sensor struct {
	Enabled bool
	Driver  string
	// Bus is the periph I2C bus name; empty opens the default bus.
	Bus  string
	Addr uint16
	// Port is the serial device for UART sensors.
	Port string
}

// Error is a configuration error. Any Error is fatal at boot.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string { return "config " + e.Key + ": " + e.Msg }

// deviceFile is the YAML shape. Pointers distinguish "unset" from zero so
// template defaults apply only to missing keys.
type deviceFile struct {
	DeviceName        string        `yaml:"device_name"`
	Timezone          string        `yaml:"timezone"`
	NTPServer         string        `yaml:"ntp_server"`
	NTPSyncInterval   time.Duration `yaml:"ntp_sync_interval"`
	NTPResyncFailures int           `yaml:"ntp_resync_failures"`

	WiFi struct {
		Enabled   *bool  `yaml:"enabled"`
		SSID      string `yaml:"ssid"`
		Password  string `yaml:"password"`
		Interface string `yaml:"interface"`
	} `yaml:"wifi"`

	InfluxDB struct {
		Enabled     *bool         `yaml:"enabled"`
		Interval    *uint         `yaml:"interval"`
		URL         string        `yaml:"url"`
		Token       string        `yaml:"token"`
		Org         string        `yaml:"org"`
		Bucket      string        `yaml:"bucket"`
		Measurement string        `yaml:"measurement"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"influxdb"`

	MQTT struct {
		Enabled         *bool         `yaml:"enabled"`
		Interval        *uint         `yaml:"interval"`
		Broker          string        `yaml:"broker"`
		Port            int           `yaml:"port"`
		Authentication  bool          `yaml:"authentication"`
		Username        string        `yaml:"username"`
		Password        string        `yaml:"password"`
		TopicPrefix     string        `yaml:"topic_prefix"`
		ClientID        string        `yaml:"client_id"`
		Timeout         time.Duration `yaml:"timeout"`
		RequireTimeSync *bool         `yaml:"require_time_sync"`
	} `yaml:"mqtt"`

	Display struct {
		Interval   *uint  `yaml:"interval"`
		Fahrenheit bool   `yaml:"fahrenheit"`
		Target     string `yaml:"target"`
	} `yaml:"display"`

	Sensors struct {
		SHT  sensorFile `yaml:"sht"`
		PM25 sensorFile `yaml:"pm2_5"`
		CO2  sensorFile `yaml:"co2"`
	} `yaml:"sensors"`

	TempOffset    *float64      `yaml:"temp_offset"`
	SensorTimeout time.Duration `yaml:"sensor_timeout"`
}

type sensorFile struct {
	Enabled *bool  `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	Bus     string `yaml:"bus"`
	Addr    uint16 `yaml:"addr"`
	Port    string `yaml:"port"`
}

// LoadDevice reads and validates the device file at path. Non-empty secrets
// replace the corresponding file values.
func LoadDevice(path string, secrets Secrets) (Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Device{}, &Error{Key: "DEVICE_CONFIG", Msg: err.Error()}
	}
	return ParseDevice(raw, secrets)
}

// ParseDevice decodes a device file. Unknown keys are rejected.
func ParseDevice(raw []byte, secrets Secrets) (Device, error) {
	var f deviceFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Device{}, &Error{Key: "device", Msg: err.Error()}
	}

	f.applySecrets(secrets)
	d := f.resolve()

	if err := d.validate(); err != nil {
		return Device{}, err
	}
	return d, nil
}

func (f *deviceFile) applySecrets(s Secrets) {
	if s.WiFiPassword != "" {
		f.WiFi.Password = s.WiFiPassword
	}
	if s.InfluxToken != "" {
		f.InfluxDB.Token = s.InfluxToken
	}
	if s.MQTTUsername != "" {
		f.MQTT.Username = s.MQTTUsername
	}
	if s.MQTTPassword != "" {
		f.MQTT.Password = s.MQTTPassword
	}
}

func (f *deviceFile) resolve() Device {
	d := Device{
		Name:              strings.TrimSpace(f.DeviceName),
		TZRule:            strings.TrimSpace(f.Timezone),
		NTPServer:         strings.TrimSpace(f.NTPServer),
		NTPSyncInterval:   f.NTPSyncInterval,
		NTPResyncFailures: f.NTPResyncFailures,
		WiFi: WiFi{
			Enabled:   boolOr(f.WiFi.Enabled, true),
			SSID:      f.WiFi.SSID,
			Password:  f.WiFi.Password,
			Interface: strings.TrimSpace(f.WiFi.Interface),
		},
		InfluxDB: InfluxDB{
			Enabled:     boolOr(f.InfluxDB.Enabled, true),
			Interval:    uintOr(f.InfluxDB.Interval, defaultInterval),
			URL:         strings.TrimSpace(f.InfluxDB.URL),
			Token:       strings.TrimSpace(f.InfluxDB.Token),
			Org:         strings.TrimSpace(f.InfluxDB.Org),
			Bucket:      strings.TrimSpace(f.InfluxDB.Bucket),
			Measurement: strings.TrimSpace(f.InfluxDB.Measurement),
			Timeout:     f.InfluxDB.Timeout,
		},
		MQTT: MQTT{
			Enabled:         boolOr(f.MQTT.Enabled, false),
			Interval:        uintOr(f.MQTT.Interval, defaultInterval),
			Broker:          strings.TrimSpace(f.MQTT.Broker),
			Port:            f.MQTT.Port,
			Authentication:  f.MQTT.Authentication,
			Username:        f.MQTT.Username,
			Password:        f.MQTT.Password,
			TopicPrefix:     strings.Trim(strings.TrimSpace(f.MQTT.TopicPrefix), "/"),
			ClientID:        strings.TrimSpace(f.MQTT.ClientID),
			Timeout:         f.MQTT.Timeout,
			RequireTimeSync: boolOr(f.MQTT.RequireTimeSync, true),
		},
		Display: Display{
			Interval:   uintOr(f.Display.Interval, defaultInterval),
			Fahrenheit: f.Display.Fahrenheit,
			Target:     strings.ToLower(strings.TrimSpace(f.Display.Target)),
		},
		Sensors: Sensors{
			Climate:     f.Sensors.SHT.resolve("sht3x"),
			Particulate: f.Sensors.PM25.resolve("pms5003"),
			CO2:         f.Sensors.CO2.resolve("scd4x"),
		},
		TempOffset:    floatOr(f.TempOffset, defaultTempOffset),
		SensorTimeout: f.SensorTimeout,
	}
	d.applyDefaults()
	return d
}

func (s sensorFile) resolve(defaultDriver string) Sensor {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" {
		driver = defaultDriver
	}
	return Sensor{
		Enabled: boolOr(s.Enabled, true),
		Driver:  driver,
		Bus:     strings.TrimSpace(s.Bus),
		Addr:    s.Addr,
		Port:    strings.TrimSpace(s.Port),
	}
}

func (d *Device) applyDefaults() {
	if d.TZRule == "" {
		d.TZRule = defaultTimezone
	}
	if d.NTPServer == "" {
		d.NTPServer = defaultNTPServer
	}
	if d.NTPSyncInterval == 0 {
		d.NTPSyncInterval = defaultNTPSync
	}
	if d.NTPResyncFailures == 0 {
		d.NTPResyncFailures = defaultNTPFailures
	}
	if d.InfluxDB.Measurement == "" {
		d.InfluxDB.Measurement = defaultMeasurement
	}
	if d.InfluxDB.Timeout == 0 {
		d.InfluxDB.Timeout = defaultSinkTimeout
	}
	if d.MQTT.Broker == "" {
		d.MQTT.Broker = "127.0.0.1"
	}
	if d.MQTT.Port == 0 {
		d.MQTT.Port = defaultMQTTPort
	}
	if d.MQTT.TopicPrefix == "" {
		d.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if d.MQTT.ClientID == "" {
		d.MQTT.ClientID = d.Name
	}
	if d.MQTT.Timeout == 0 {
		d.MQTT.Timeout = defaultSinkTimeout
	}
	if d.Display.Target == "" {
		d.Display.Target = TargetStdout
	}
	if d.SensorTimeout == 0 {
		d.SensorTimeout = defaultSensorTimeout
	}
}

func (d *Device) validate() error {
	var errs []error
	add := func(key, msg string) { errs = append(errs, &Error{Key: key, Msg: msg}) }
	required := func(key, val string) {
		switch {
		case strings.TrimSpace(val) == "":
			add(key, "is required")
		case strings.HasPrefix(val, Placeholder):
			add(key, "still holds the template placeholder")
		}
	}

	required("device_name", d.Name)

	zone, err := tz.Parse(d.TZRule)
	if err != nil {
		add("timezone", err.Error())
	}
	d.Timezone = zone

	if d.NTPSyncInterval < 0 {
		add("ntp_sync_interval", "must be positive")
	}
	if d.NTPResyncFailures < 0 {
		add("ntp_resync_failures", "must be positive")
	}

	if d.WiFi.Enabled {
		required("wifi.ssid", d.WiFi.SSID)
		if strings.HasPrefix(d.WiFi.Password, Placeholder) {
			add("wifi.password", "still holds the template placeholder")
		}
	}

	if d.InfluxDB.Enabled {
		required("influxdb.url", d.InfluxDB.URL)
		required("influxdb.token", d.InfluxDB.Token)
		required("influxdb.org", d.InfluxDB.Org)
		required("influxdb.bucket", d.InfluxDB.Bucket)
		if d.InfluxDB.Timeout < 0 {
			add("influxdb.timeout", "must be positive")
		}
	}

	if d.MQTT.Enabled {
		required("mqtt.broker", d.MQTT.Broker)
		if d.MQTT.Port < 1 || d.MQTT.Port > 65535 {
			add("mqtt.port", fmt.Sprintf("out of range: %d", d.MQTT.Port))
		}
		if d.MQTT.Authentication {
			required("mqtt.username", d.MQTT.Username)
			required("mqtt.password", d.MQTT.Password)
		}
		if d.MQTT.Timeout < 0 {
			add("mqtt.timeout", "must be positive")
		}
	}

	interval := func(key string, secs uint) {
		if secs > maxIntervalSeconds {
			add(key, fmt.Sprintf("too large: %d (max %d seconds)", secs, maxIntervalSeconds))
		}
	}
	interval("display.interval", d.Display.Interval)
	interval("influxdb.interval", d.InfluxDB.Interval)
	interval("mqtt.interval", d.MQTT.Interval)

	switch d.Display.Target {
	case TargetStdout, TargetTUI, TargetNone:
	default:
		add("display.target", fmt.Sprintf("unknown target %q (allowed: stdout, tui, none)", d.Display.Target))
	}

	checkDriver := func(key string, s Sensor, allowed ...string) {
		if !s.Enabled {
			return
		}
		for _, a := range allowed {
			if s.Driver == a {
				return
			}
		}
		add(key, fmt.Sprintf("unknown driver %q (allowed: %s)", s.Driver, strings.Join(allowed, ", ")))
	}
	checkDriver("sensors.sht.driver", d.Sensors.Climate, "sht3x", "bme280", "sim")
	checkDriver("sensors.pm2_5.driver", d.Sensors.Particulate, "pms5003", "sim")
	checkDriver("sensors.co2.driver", d.Sensors.CO2, "scd4x", "sim")
	if d.Sensors.Particulate.Enabled && d.Sensors.Particulate.Driver == "pms5003" && d.Sensors.Particulate.Port == "" {
		add("sensors.pm2_5.port", "is required for the pms5003 driver")
	}

	if d.SensorTimeout < 0 {
		add("sensor_timeout", "must be positive")
	}

	return errors.Join(errs...)
}

// maxIntervalSeconds is the longest cadence a time.Duration can hold.
const maxIntervalSeconds = uint(math.MaxInt64 / int64(time.Second))

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func uintOr(p *uint, def uint) uint {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
