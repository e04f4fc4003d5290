package backend

import (
	"context"
	"path/filepath"
	"testing"

	"vpnshare/internal/config"
	"vpnshare/internal/core"
)

func TestCreateBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json", config: Config{Type: JSONBackend, DataPath: filepath.Join(dir, "state.json")}},
		{name: "sqlite", config: Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "ledger.db")}},
		{name: "memory", config: Config{Type: MemoryBackend}},
		{name: "json without path", config: Config{Type: JSONBackend}, wantErr: true},
		{name: "unknown", config: Config{Type: "redis"}, wantErr: true},
	}

	f := NewFactory(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.CreateBackend(context.Background(), tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer res.Cleanup()

			st := core.NewState()
			st.Users[1] = core.User{Name: "A", Role: core.RoleMember}
			if err := res.Store.Save(context.Background(), st); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := res.Store.Load(context.Background())
			if err != nil || got.Users[1].Name != "A" {
				t.Fatalf("Load = %+v, %v", got, err)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "json", DataPath: "data/state.json"})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != JSONBackend || cfg.DataPath != "data/state.json" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("sheets is no longer a ledger backend")
	}
}
