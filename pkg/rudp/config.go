package rudp

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the environment-driven settings for the rudp-echo example
// server and client (SPEC_FULL.md, Ambient Stack). The env struct tag
// convention is NAME=default for an always-applied default, NAME?=default
// for one that can also be explicitly set back to empty.
type Config struct {
	// The address to listen on as a server. Ignored if Dial is set.
	ListenAddr string `env:"RUDP_LISTEN_ADDR?=:9900"`

	// The address to dial as a client. If empty, the example runs as a
	// server instead.
	DialAddr string `env:"RUDP_DIAL_ADDR"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"RUDP_LOG_LEVEL=info"`

	// Whether to use pretty (console-writer) logs instead of JSON.
	LogPretty bool `env:"RUDP_LOG_PRETTY=true"`

	// If non-empty, logs are additionally appended to this file. Sending
	// the process SIGHUP reopens it, for log rotation by external tools.
	LogFile string `env:"RUDP_LOG_FILE"`

	// The address to serve /metrics on, if non-empty.
	MetricsAddr string `env:"RUDP_METRICS_ADDR"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" environment variables
// into c, applying defaults from each field's env tag. If incremental is
// true, defaults are only applied for vars that are present but empty, not
// for vars that are entirely missing.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok && strings.HasPrefix(k, "RUDP_") {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}

		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
