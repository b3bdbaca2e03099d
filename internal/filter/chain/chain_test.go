package chain_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/filter/chain"
	"github.com/earshot-audio/earshot/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDisabled(t *testing.T) {
	c, err := chain.Load(context.Background(), config.FiltersConfig{Enabled: false}, discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil chain when disabled")
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	cfg := config.FiltersConfig{Enabled: true, Directory: t.TempDir()}
	c, err := chain.Load(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { c.Close(ctx) })

	if c.Len() != 0 {
		t.Fatalf("expected empty chain, got %d filters", c.Len())
	}
	in := protocol.Transcript{SessionID: "s1", Text: "hello there"}
	out, err := c.Transform(ctx, in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out.Text != in.Text || out.SessionID != in.SessionID {
		t.Fatalf("expected pass-through, got %+v", out)
	}
}

func TestLoadFailsOnBrokenManifest(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "broken")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "filter.yaml"), []byte("metadata:\n  name: broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.FiltersConfig{Enabled: true, Directory: dir}
	if _, err := chain.Load(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected error for broken manifest")
	}
}

func TestLoadFailsOnMissingModule(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "ghost")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	mf := `metadata:
  name: ghost
  version: 0.1.0
runtime:
  mode: wasm
  module: build/ghost.wasm
  entrypoint: transform
`
	if err := os.WriteFile(filepath.Join(sub, "filter.yaml"), []byte(mf), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.FiltersConfig{Enabled: true, Directory: dir}
	if _, err := chain.Load(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected error for missing module")
	}
}
