package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/bridge"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
	"github.com/uscpte7/CAN-Bus1/internal/telemetry"
)

const envPrefix = "CAN_BRIDGE_"

type appConfig struct {
	backend  string
	channels [bridge.MaxChannels + 1]string

	control      string
	serialDev    string
	baud         int
	serialReadTO time.Duration

	fastTick time.Duration
	slowTick time.Duration
	watchdog time.Duration
	txLarge  int
	txSmall  int

	rulesPath string
	repeat    bool
	ident     string

	mirrorAddr    string
	mirrorChannel int
	injectChannel int
	mirrorBatch   int
	mirrorFlush   time.Duration
	mirrorWriteTO time.Duration
	hubBuffer     int
	hubPolicy     string
	maxClients    int
	handshakeTO   time.Duration
	clientReadTO  time.Duration
	mdnsEnable    bool
	mdnsName      string

	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
}

// newFlagSet binds every option to cfg with its default.
func newFlagSet(cfg *appConfig, showVersion *bool) *flag.FlagSet {
	fs := flag.NewFlagSet("can-bridge", flag.ContinueOnError)
	fs.StringVar(&cfg.backend, "backend", driver.BackendSocketCAN, "CAN backend: socketcan|brutella|sim")
	fs.StringVar(&cfg.channels[1], "can1", "can0", "Interface of channel 1 (empty disables)")
	fs.StringVar(&cfg.channels[2], "can2", "can1", "Interface of channel 2 (empty disables)")
	fs.StringVar(&cfg.channels[3], "can3", "", "Interface of channel 3, listen-only (empty disables)")
	fs.StringVar(&cfg.control, "control", "serial", "Control link: serial|stdio")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyACM0", "Serial device path of the control link")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.DurationVar(&cfg.fastTick, "fast-tick", bridge.DefaultFastTick, "Transmit tick period")
	fs.DurationVar(&cfg.slowTick, "slow-tick", bridge.DefaultSlowTick, "Housekeeping tick period")
	fs.DurationVar(&cfg.watchdog, "watchdog", bridge.DefaultWatchdog, "Watchdog timeout (must exceed -slow-tick)")
	fs.IntVar(&cfg.txLarge, "tx-large", bridge.DefaultTxLarge, "Ring capacity of channels 1 and 2")
	fs.IntVar(&cfg.txSmall, "tx-small", bridge.DefaultTxSmall, "Ring capacity of channel 3")
	fs.StringVar(&cfg.rulesPath, "rules", "", "YAML rules file (empty uses built-in rules)")
	fs.BoolVar(&cfg.repeat, "repeat", true, "Repeat frames across buses at boot")
	fs.StringVar(&cfg.ident, "ident", strings.TrimSuffix(telemetry.DefaultIdent, "\n"), "Identification string")
	fs.StringVar(&cfg.mirrorAddr, "mirror-addr", "", "Mirror tap TCP listen address (e.g. :20000); empty disables")
	fs.IntVar(&cfg.mirrorChannel, "mirror-channel", 0, "Channel mirrored to tap clients (0 = all)")
	fs.IntVar(&cfg.injectChannel, "inject-channel", 0, "Channel receiving frames from tap clients (0 disables)")
	fs.IntVar(&cfg.mirrorBatch, "mirror-batch", 64, "Maximum frames per cannelloni write to a tap client")
	fs.DurationVar(&cfg.mirrorFlush, "mirror-flush-interval", 5*time.Millisecond, "Flush interval of partial batches to tap clients")
	fs.DurationVar(&cfg.mirrorWriteTO, "mirror-write-timeout", 5*time.Second, "Per-write deadline towards tap clients")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous tap clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the mirror tap over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-bridge-<hostname>)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(showVersion, "version", false, "Print version and exit")
	return fs
}

func parseFlags() (*appConfig, bool) {
	cfg, showVersion, err := parseArgs(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, showVersion
	}
	return cfg, showVersion
}

// parseArgs parses args, applies environment overrides and validates.
func parseArgs(args []string, lookup func(string) (string, bool), out io.Writer) (*appConfig, bool, error) {
	cfg := &appConfig{}
	var showVersion bool
	fs := newFlagSet(cfg, &showVersion)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if showVersion {
		return cfg, true, nil
	}
	// Explicitly set flags take precedence over the environment.
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if err := applyEnvOverrides(fs, set, lookup); err != nil {
		return nil, false, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// envName maps a flag name to its variable, e.g. mirror-addr to
// CAN_BRIDGE_MIRROR_ADDR.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag not in set from its CAN_BRIDGE_*
// variable. Empty values are ignored except for the string flags that use
// empty to disable something. The first parse error is returned.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]struct{}, lookup func(string) (string, bool)) error {
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if _, ok := set[f.Name]; ok || f.Name == "version" {
			return
		}
		name := envName(f.Name)
		v, ok := lookup(name)
		if !ok {
			return
		}
		v = strings.TrimSpace(v)
		if v == "" && !emptyAllowed(f.Name) {
			return
		}
		if isBool(f) {
			switch strings.ToLower(v) {
			case "yes", "on":
				v = "true"
			case "no", "off":
				v = "false"
			}
		}
		if err := f.Value.Set(v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", name, err)
		}
	})
	return firstErr
}

func emptyAllowed(name string) bool {
	switch name {
	case "can1", "can2", "can3", "rules", "mirror-addr", "metrics-addr", "mdns-name":
		return true
	}
	return false
}

func isBool(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// validate performs semantic validation of the parsed configuration. It does
// not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case driver.BackendSocketCAN, driver.BackendBrutella, driver.BackendSim:
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if len(enabledChannels(c)) == 0 {
		return errors.New("no CAN channel configured")
	}
	switch c.control {
	case "serial":
		if c.serialDev == "" {
			return errors.New("serial must be set when control=serial")
		}
	case "stdio":
	default:
		return fmt.Errorf("invalid control: %s", c.control)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.fastTick <= 0 || c.slowTick <= 0 {
		return fmt.Errorf("fast-tick and slow-tick must be > 0")
	}
	if c.txLarge < 2 || c.txSmall < 2 {
		return fmt.Errorf("tx-large and tx-small must be >= 2")
	}
	if err := c.bridgeConfig().Validate(); err != nil {
		return err
	}
	if c.mirrorChannel < 0 || c.mirrorChannel > bridge.MaxChannels {
		return fmt.Errorf("mirror-channel must be 0..%d (got %d)", bridge.MaxChannels, c.mirrorChannel)
	}
	if c.injectChannel < 0 || c.injectChannel > bridge.MaxChannels {
		return fmt.Errorf("inject-channel must be 0..%d (got %d)", bridge.MaxChannels, c.injectChannel)
	}
	if c.injectChannel > 0 && c.channels[c.injectChannel] == "" {
		return fmt.Errorf("inject-channel %d is not configured", c.injectChannel)
	}
	if c.mirrorBatch <= 0 {
		return fmt.Errorf("mirror-batch must be > 0 (got %d)", c.mirrorBatch)
	}
	if c.mirrorFlush <= 0 || c.mirrorWriteTO <= 0 {
		return fmt.Errorf("mirror-flush-interval and mirror-write-timeout must be > 0")
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// bridgeConfig maps the options onto the runtime configuration. Rules are
// filled in by the caller.
func (c *appConfig) bridgeConfig() bridge.Config {
	cfg := bridge.DefaultConfig()
	cfg.FastTick = c.fastTick
	cfg.SlowTick = c.slowTick
	cfg.Watchdog = c.watchdog
	cfg.TxLarge = c.txLarge
	cfg.TxSmall = c.txSmall
	cfg.Repeat = c.repeat
	if c.ident != "" {
		cfg.Ident = c.ident
	}
	return cfg
}

// enabledChannels lists the configured channels as "n=iface".
func enabledChannels(c *appConfig) []string {
	var out []string
	for ch := 1; ch <= bridge.MaxChannels; ch++ {
		if c.channels[ch] != "" {
			out = append(out, fmt.Sprintf("%d=%s", ch, c.channels[ch]))
		}
	}
	return out
}
