package config

import (
	"testing"

	"github.com/docuvault/docsync/internal/common/errors"
)

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Remote.Enabled = true
		cfg.Remote.Host = "backup.example.com"
		cfg.Remote.Module = "documents"
		cfg.Remote.Secret = "s3cret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid remote",
			mutate: func(c *Config) {},
		},
		{
			name:   "remote disabled needs nothing",
			mutate: func(c *Config) { c.Remote = RemoteConfig{} },
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Remote.Host = "" },
			wantErr: errors.ErrRemoteNotSet,
		},
		{
			name:    "missing module",
			mutate:  func(c *Config) { c.Remote.Module = "" },
			wantErr: errors.ErrRemoteNotSet,
		},
		{
			name:    "secret and secret_file together",
			mutate:  func(c *Config) { c.Remote.SecretFile = "/etc/docsync/secret" },
			wantErr: errors.ErrConfigInvalid,
		},
		{
			name:    "zero max retries",
			mutate:  func(c *Config) { c.Replication.MaxRetries = 0 },
			wantErr: errors.ErrConfigInvalid,
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Replication.BatchSize = 0 },
			wantErr: errors.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %v, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Remote.Enabled {
		t.Error("remote should be disabled by default")
	}
	if cfg.Remote.Port != 873 {
		t.Errorf("Port = %v, want 873", cfg.Remote.Port)
	}
	if cfg.Replication.MaxRetries != 5 {
		t.Errorf("MaxRetries = %v, want 5", cfg.Replication.MaxRetries)
	}
}
