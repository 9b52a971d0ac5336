// Package config loads daemon configuration from flags, environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/gpio"
	"github.com/sweeney/basic-switch/internal/logic"
)

// EnvPrefix prefixes every environment variable, e.g. BASIC_SWITCH_MQTT_BROKER_IP.
const EnvPrefix = "BASIC_SWITCH"

// ErrInvalid is returned for values that fail validation.
var ErrInvalid = errors.New("invalid config")

// Config holds all configuration for the daemon.
type Config struct {
	Device      DeviceConfig      `mapstructure:"device"`
	Timing      TimingConfig      `mapstructure:"timing"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	GPIO        GPIOConfig        `mapstructure:"gpio"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	AP          APConfig          `mapstructure:"ap"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`

	// PrintState reads the button once, prints it and exits.
	PrintState bool `mapstructure:"-"`
	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type DeviceConfig struct {
	Name           string `mapstructure:"name"`
	Capability     string `mapstructure:"capability"`
	PressThreshold int    `mapstructure:"press_threshold"`
}

type TimingConfig struct {
	Poll           time.Duration `mapstructure:"poll"`
	Debounce       time.Duration `mapstructure:"debounce"`
	PressTimeout   time.Duration `mapstructure:"press_timeout"`
	MaxAPTime      time.Duration `mapstructure:"max_ap_time"`
	PublishSpacing time.Duration `mapstructure:"publish_spacing"`
}

type MQTTConfig struct {
	Login      string `mapstructure:"login"`
	Password   string `mapstructure:"password"`
	BrokerIP   string `mapstructure:"broker_ip"`
	BrokerPort string `mapstructure:"broker_port"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type GPIOConfig struct {
	Chip       string `mapstructure:"chip"`
	ButtonPin  int    `mapstructure:"button_pin"`
	RelayPin   int    `mapstructure:"relay_pin"`
	LEDPin     int    `mapstructure:"led_pin"`
	EdgeEvents bool   `mapstructure:"edge_events"`
}

type HTTPConfig struct {
	StatusAddr string `mapstructure:"status_addr"`
	PortalAddr string `mapstructure:"portal_addr"`
}

type APConfig struct {
	SSID         string `mapstructure:"ssid"`
	StartCommand string `mapstructure:"start_command"`
	StopCommand  string `mapstructure:"stop_command"`
}

type CredentialsConfig struct {
	File string `mapstructure:"file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.name", "devXX")
	v.SetDefault("device.capability", "1")
	v.SetDefault("device.press_threshold", logic.PressThreshold)

	v.SetDefault("timing.poll", 50*time.Millisecond)
	v.SetDefault("timing.debounce", logic.ButtonDebounce)
	v.SetDefault("timing.press_timeout", logic.ButtonTimeout)
	v.SetDefault("timing.max_ap_time", logic.MaxAPTime)
	v.SetDefault("timing.publish_spacing", logic.PublishTimeOffset)

	v.SetDefault("mqtt.login", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.broker_ip", "")
	v.SetDefault("mqtt.broker_port", "1883")
	v.SetDefault("mqtt.buffer_size", 32)

	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.button_pin", gpio.PinButton)
	v.SetDefault("gpio.relay_pin", gpio.PinRelay)
	v.SetDefault("gpio.led_pin", gpio.PinLED)
	v.SetDefault("gpio.edge_events", false)

	v.SetDefault("http.status_addr", ":80")
	v.SetDefault("http.portal_addr", ":8080")

	v.SetDefault("ap.ssid", logic.ConfigSSID)
	v.SetDefault("ap.start_command", "")
	v.SetDefault("ap.stop_command", "")

	v.SetDefault("credentials.file", "/var/lib/basic-switch/credentials.bin")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"device":          "device.name",
	"capability":      "device.capability",
	"press-threshold": "device.press_threshold",
	"poll":            "timing.poll",
	"debounce":        "timing.debounce",
	"press-timeout":   "timing.press_timeout",
	"max-ap-time":     "timing.max_ap_time",
	"publish-spacing": "timing.publish_spacing",
	"login":           "mqtt.login",
	"password":        "mqtt.password",
	"broker-ip":       "mqtt.broker_ip",
	"broker-port":     "mqtt.broker_port",
	"chip":            "gpio.chip",
	"pin-button":      "gpio.button_pin",
	"pin-relay":       "gpio.relay_pin",
	"pin-led":         "gpio.led_pin",
	"edge-events":     "gpio.edge_events",
	"http":            "http.status_addr",
	"portal":          "http.portal_addr",
	"ssid":            "ap.ssid",
	"credentials":     "credentials.file",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringP("config", "c", "", "YAML config file")
	fs.Bool("print-state", false, "Print the button state and exit")

	fs.String("device", "devXX", "Device name used as the topic namespace")
	fs.String("capability", "1", "Capability flag (1 toggle, 2 momentary)")
	fs.Int("press-threshold", logic.PressThreshold, "Presses that enter configuration mode")
	fs.Duration("poll", 50*time.Millisecond, "Button polling interval")
	fs.Duration("debounce", logic.ButtonDebounce, "Button debounce duration")
	fs.Duration("press-timeout", logic.ButtonTimeout, "Maximum gap between counted presses")
	fs.Duration("max-ap-time", logic.MaxAPTime, "Configuration session lifetime")
	fs.Duration("publish-spacing", logic.PublishTimeOffset, "Minimum spacing between publishes per slot")
	fs.String("login", "", "MQTT user name")
	fs.String("password", "", "MQTT password")
	fs.String("broker-ip", "", "MQTT broker address")
	fs.String("broker-port", "1883", "MQTT broker port")
	fs.String("chip", gpio.DefaultChip, "GPIO chip")
	fs.Int("pin-button", gpio.PinButton, "Button line offset")
	fs.Int("pin-relay", gpio.PinRelay, "Relay line offset")
	fs.Int("pin-led", gpio.PinLED, "Status LED line offset (-1 disables)")
	fs.Bool("edge-events", false, "Use edge events instead of polling the button")
	fs.String("http", ":80", "HTTP status address (empty to disable)")
	fs.String("portal", ":8080", "Provisioning portal address")
	fs.String("ssid", logic.ConfigSSID, "Access point SSID while configuring")
	fs.String("credentials", "/var/lib/basic-switch/credentials.bin", "Credential record file")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text, json)")
	return fs
}

// Usage writes the flag help to w.
func Usage(w io.Writer) {
	fmt.Fprintf(w, "Usage of basic-switch:\n%s", newFlagSet("basic-switch").FlagUsages())
}

// Load parses args and layers flags over environment variables, the config
// file and defaults. pflag.ErrHelp is returned unwrapped for -h.
func Load(args []string) (*Config, error) {
	fs := newFlagSet("basic-switch")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	file, _ := fs.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PrintState, _ = fs.GetBool("print-state")
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks durations, the press threshold and logging settings.
func (c *Config) Validate() error {
	var errs []error
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"timing.poll", c.Timing.Poll},
		{"timing.debounce", c.Timing.Debounce},
		{"timing.press_timeout", c.Timing.PressTimeout},
		{"timing.max_ap_time", c.Timing.MaxAPTime},
		{"timing.publish_spacing", c.Timing.PublishSpacing},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %v", ErrInvalid, d.key, d.val))
		}
	}
	if c.Device.PressThreshold < 1 {
		errs = append(errs, fmt.Errorf("%w: device.press_threshold must be at least 1, got %d", ErrInvalid, c.Device.PressThreshold))
	}
	if c.GPIO.ButtonPin < 0 || c.GPIO.RelayPin < 0 {
		errs = append(errs, fmt.Errorf("%w: gpio button and relay pins must not be negative", ErrInvalid))
	}
	if c.Credentials.File == "" {
		errs = append(errs, fmt.Errorf("%w: credentials.file is empty", ErrInvalid))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.level: %v", ErrInvalid, err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Values returns the configured credential fields for boot provisioning.
func (c *Config) Values() map[credentials.Field]string {
	return map[credentials.Field]string{
		credentials.FieldLogin:      c.MQTT.Login,
		credentials.FieldPassword:   c.MQTT.Password,
		credentials.FieldDevice:     c.Device.Name,
		credentials.FieldCapability: c.Device.Capability,
		credentials.FieldBrokerIP:   c.MQTT.BrokerIP,
		credentials.FieldBrokerPort: c.MQTT.BrokerPort,
	}
}

// Record builds a credential record from the configured fields. It fails
// when the broker address is missing or any value does not fit.
func (c *Config) Record() (credentials.Record, error) {
	b := credentials.NewBuilder("")
	if err := b.SetAll(c.Values()); err != nil {
		return credentials.Record{}, fmt.Errorf("config credentials: %w", err)
	}
	return b.Build()
}

// NewLogger builds the root logger from the logging section.
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if lvl, err := logrus.ParseLevel(c.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
