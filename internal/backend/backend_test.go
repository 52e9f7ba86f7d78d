package backend

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"cadence/internal/config"
	"cadence/internal/core"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, ""},
		{"sqlite without path", Config{Type: SQLiteBackend}, "SQLite database path"},
		{"postgres without url", Config{Type: PostgresBackend}, "database URL"},
		{"unknown type", Config{Type: "sheets"}, "invalid backend type"},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "x"}, "AMQP exchange and queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:  "postgres",
		DatabaseURL:  "postgres://localhost/cadence",
		AMQPURL:      "amqp://localhost",
		AMQPExchange: "cadence",
		AMQPQueue:    "transaction_changes",
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if cfg.Type != PostgresBackend || cfg.DatabaseURL != "postgres://localhost/cadence" || cfg.AMQPQueue != "transaction_changes" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "cadence.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					t.Errorf("cleanup: %v", err)
				}
			}()
			if res.Publisher != nil {
				t.Error("publisher must be nil without AMQP")
			}
			rules, err := res.Store.ListActiveRules(ctx, "u1")
			if err != nil || len(rules) != 0 {
				t.Fatalf("fresh store: rules=%v err=%v", rules, err)
			}
			if _, err := res.Store.GetTransaction(ctx, "u1", "missing"); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	if _, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend}); err == nil {
		t.Fatal("expected validation error")
	}
}
