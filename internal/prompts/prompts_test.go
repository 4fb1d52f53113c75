package prompts

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	set, err := Load("", testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.StageOne == "" || set.General == "" {
		t.Fatal("defaults should not be empty")
	}
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.StageTwo != Default().StageTwo {
		t.Fatal("expected default stage2 prompt")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "stage1: |\n  Custom stage one prompt.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.StageOne != "Custom stage one prompt.\n" {
		t.Fatalf("stage1 not overridden: %q", set.StageOne)
	}
	if set.StageTwo != Default().StageTwo {
		t.Fatal("stage2 should keep its default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stage1: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, testLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}
