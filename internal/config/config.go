// Package config reads the server's startup configuration file: a flat
// "key value" text format, one pair per line, '#'-prefixed comments and
// blank lines ignored — the same external format as the original's
// gbConfigRead* family (original_source/src/gibson.c). No pack library
// reads this particular dialect (see DESIGN.md), so this reader is a
// small hand-rolled scanner over bufio.Scanner.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config holds every option named in spec.md §6, each with the
// original's default value.
type Config struct {
	UnixSocket string
	Address    string
	Port       int

	Logfile      string
	Loglevel     string
	Logflushrate int

	MaxIdleTime int64 // seconds
	MaxClients  int

	MaxRequestSize  int64
	MaxResponseSize int64

	MaxMemory   int64
	MaxItemTTL  int64
	MaxKeySize  int64
	MaxValueSize int64

	Compression int64 // byte threshold; 0 disables
	GCRatio     int64 // seconds

	CronPeriodMS int

	Daemonize bool
	Pidfile   string

	MetricsAddress string // "" disables the admin HTTP surface
}

// Default mirrors the original's GB_DEFAULT_* constants.
func Default() Config {
	return Config{
		Address:         "127.0.0.1",
		Port:            10128,
		Logfile:         "",
		Loglevel:        "info",
		Logflushrate:    1,
		MaxIdleTime:     60,
		MaxClients:      1024,
		MaxRequestSize:  2 * 1024 * 1024,
		MaxResponseSize: 2 * 1024 * 1024,
		MaxMemory:       100 * 1024 * 1024,
		MaxItemTTL:      0,
		MaxKeySize:      16 * 1024,
		MaxValueSize:    512 * 1024,
		Compression:     0,
		GCRatio:         60,
		CronPeriodMS:    100,
		Daemonize:       false,
		Pidfile:         "/var/run/gibson.pid",
		MetricsAddress:  "",
	}
}

// Load reads and parses the config file at path, overriding Default()'s
// fields with whatever keys it finds. A missing file is not an error:
// the server simply starts with defaults, matching the original's
// behavior of tolerating an absent configuration file.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, cfg)
}

// Parse reads key/value pairs from r, applying them on top of base.
func Parse(r io.Reader, base Config) (Config, error) {
	cfg := base
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return cfg, fmt.Errorf("config: line %d: expected \"key value\", got %q", lineNo, line)
		}
		key := strings.TrimSpace(fields[0])
		value := strings.TrimSpace(fields[1])
		if err := apply(&cfg, key, value); err != nil {
			return cfg, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func apply(cfg *Config, key, value string) error {
	switch key {
	case "unix_socket":
		cfg.UnixSocket = value
	case "address":
		cfg.Address = value
	case "port":
		return setInt(&cfg.Port, value)
	case "logfile":
		cfg.Logfile = value
	case "loglevel":
		cfg.Loglevel = value
	case "logflushrate":
		return setInt(&cfg.Logflushrate, value)
	case "max_idletime":
		return setInt64(&cfg.MaxIdleTime, value)
	case "max_clients":
		return setInt(&cfg.MaxClients, value)
	case "max_request_size":
		return setSize(&cfg.MaxRequestSize, value)
	case "max_response_size":
		return setSize(&cfg.MaxResponseSize, value)
	case "max_memory":
		return setSize(&cfg.MaxMemory, value)
	case "max_item_ttl":
		return setInt64(&cfg.MaxItemTTL, value)
	case "max_key_size":
		return setSize(&cfg.MaxKeySize, value)
	case "max_value_size":
		return setSize(&cfg.MaxValueSize, value)
	case "compression":
		return setSize(&cfg.Compression, value)
	case "gc_ratio":
		return setDuration(&cfg.GCRatio, value)
	case "cron_period":
		return setInt(&cfg.CronPeriodMS, value)
	case "daemonize":
		return setBool(&cfg.Daemonize, value)
	case "pidfile":
		cfg.Pidfile = value
	case "metrics_address":
		cfg.MetricsAddress = value
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	switch value {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	default:
		return fmt.Errorf("not a boolean: %q", value)
	}
	return nil
}

// setSize parses plain integers or a size with a b/kb/mb/gb suffix
// (case-insensitive), mirroring gbConfigReadSize.
func setSize(dst *int64, value string) error {
	n, err := parseSize(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseSize(value string) (int64, error) {
	lower := strings.ToLower(strings.TrimSpace(value))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(lower, "gb"):
		multiplier = 1 << 30
		lower = strings.TrimSuffix(lower, "gb")
	case strings.HasSuffix(lower, "mb"):
		multiplier = 1 << 20
		lower = strings.TrimSuffix(lower, "mb")
	case strings.HasSuffix(lower, "kb"):
		multiplier = 1 << 10
		lower = strings.TrimSuffix(lower, "kb")
	case strings.HasSuffix(lower, "b"):
		lower = strings.TrimSuffix(lower, "b")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(lower), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a size: %q", value)
	}
	return n * multiplier, nil
}

// setDuration parses plain integer seconds or a value with an s/m/h
// suffix, mirroring gbConfigReadTime.
func setDuration(dst *int64, value string) error {
	lower := strings.ToLower(strings.TrimSpace(value))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(lower, "h"):
		multiplier = 3600
		lower = strings.TrimSuffix(lower, "h")
	case strings.HasSuffix(lower, "m"):
		multiplier = 60
		lower = strings.TrimSuffix(lower, "m")
	case strings.HasSuffix(lower, "s"):
		lower = strings.TrimSuffix(lower, "s")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(lower), 10, 64)
	if err != nil {
		return fmt.Errorf("not a duration: %q", value)
	}
	*dst = n * multiplier
	return nil
}
