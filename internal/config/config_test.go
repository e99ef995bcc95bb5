package config

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, dir string, snap Snapshot) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	// The config file uses the snake_case keys named by the mapstructure tags.
	fields := make(map[string]any)
	v := reflect.ValueOf(snap)
	for i := 0; i < v.NumField(); i++ {
		fields[v.Type().Field(i).Tag.Get("mapstructure")] = v.Field(i).Interface()
	}
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewStoreFallsBackToDefaultsOnMissingFile(t *testing.T) {
	t.Parallel()
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"), discardLogger())
	got := s.Get()
	want := Default()
	if got != want {
		t.Errorf("Get() = %+v, want defaults %+v", got, want)
	}
}

func TestStoreLoadsInitialFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	snap := Default()
	snap.Strategy = "order_imbalance"
	path := writeConfig(t, dir, snap)

	s := NewStore(path, discardLogger())
	if got := s.Get().Strategy; got != "order_imbalance" {
		t.Errorf("Strategy = %q, want order_imbalance", got)
	}
}

func TestStoreReloadPicksUpChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, Default())

	s := NewStore(path, discardLogger()).WithInterval(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	changed := Default()
	changed.ImbalanceThreshold = 0.75
	writeConfig(t, dir, changed)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Get().ImbalanceThreshold == 0.75 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reload did not pick up updated config within deadline")
}

func TestStoreKeepsSnapshotOnParseError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, Default())

	s := NewStore(path, discardLogger())
	before := s.Get()

	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.reload()

	after := s.Get()
	if before != after {
		t.Errorf("snapshot changed after parse error: before=%+v after=%+v", before, after)
	}
}
