package rudp

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigUnmarshalEnvDefaults(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil, false); err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	if c.ListenAddr != ":9900" {
		t.Errorf("ListenAddr = %q, want %q", c.ListenAddr, ":9900")
	}
	if c.LogLevel != zerolog.InfoLevel {
		t.Errorf("LogLevel = %v, want info", c.LogLevel)
	}
	if !c.LogPretty {
		t.Errorf("LogPretty = false, want true")
	}
}

func TestConfigUnmarshalEnvOverrides(t *testing.T) {
	var c Config
	env := []string{
		"RUDP_DIAL_ADDR=127.0.0.1:9901",
		"RUDP_LOG_LEVEL=debug",
		"RUDP_LOG_PRETTY=false",
	}
	if err := c.UnmarshalEnv(env, false); err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	if c.DialAddr != "127.0.0.1:9901" {
		t.Errorf("DialAddr = %q, want %q", c.DialAddr, "127.0.0.1:9901")
	}
	if c.LogLevel != zerolog.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", c.LogLevel)
	}
	if c.LogPretty {
		t.Errorf("LogPretty = true, want false")
	}
}

func TestConfigUnmarshalEnvUnknownVar(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{"RUDP_NOT_A_REAL_SETTING=x"}, false)
	if err == nil {
		t.Fatal("expected error for unknown environment variable")
	}
}
