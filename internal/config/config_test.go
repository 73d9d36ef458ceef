package config

import (
	"errors"
	"testing"
	"time"
)

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name string
		port string
		want error
	}{
		{"valid", "4000", nil},
		{"valid-high", "9999", nil},
		{"too-short", "400", ErrPortNotFourWide},
		{"too-long", "40000", ErrPortNotFourWide},
		{"empty", "", ErrPortNotFourWide},
		{"alpha", "4a00", ErrPortNotNumeric},
		{"negative", "-400", ErrPortNotNumeric},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidatePort(tc.port); !errors.Is(err, tc.want) {
				t.Fatalf("ValidatePort(%q) = %v, want %v", tc.port, err, tc.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		Name:              "alice",
		Port:              "4000",
		LogLevel:          "info",
		HeartbeatInterval: 10 * time.Second,
		DialTimeout:       time.Second,
	}

	t.Run("ok-no-bootstrap", func(t *testing.T) {
		cfg := base
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if _, ok := cfg.BootstrapAddr(); ok {
			t.Fatal("BootstrapAddr ok = true, want false")
		}
	})

	t.Run("ok-bootstrap", func(t *testing.T) {
		cfg := base
		cfg.Bootstrap = "192.168.1.4:4001"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		ap, ok := cfg.BootstrapAddr()
		if !ok || ap.String() != "192.168.1.4:4001" {
			t.Fatalf("BootstrapAddr = %v, %v", ap, ok)
		}
	})

	t.Run("bad-bootstrap", func(t *testing.T) {
		cfg := base
		cfg.Bootstrap = "not-an-address"
		if err := cfg.Validate(); !errors.Is(err, ErrBadBootstrap) {
			t.Fatalf("Validate = %v, want %v", err, ErrBadBootstrap)
		}
	})

	t.Run("bad-port", func(t *testing.T) {
		cfg := base
		cfg.Port = "80"
		if err := cfg.Validate(); !errors.Is(err, ErrPortNotFourWide) {
			t.Fatalf("Validate = %v, want %v", err, ErrPortNotFourWide)
		}
	})
}
