package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trinityai/trinity-gateway/internal/config"
)

func withLogPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "trinity.log")
	prev := config.Cfg.LogPath
	config.Cfg.LogPath = path
	t.Cleanup(func() {
		Close()
		log.SetOutput(os.Stderr)
		config.Cfg.LogPath = prev
	})
	return path
}

func TestReadTail(t *testing.T) {
	path := withLogPath(t)
	if out, err := ReadTail(10); err != nil || out != "" {
		t.Fatalf("expected empty tail for missing file, got %q %v", out, err)
	}

	os.MkdirAll(filepath.Dir(path), 0755)
	var lines []string
	for i := 1; i <= 7; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	out, err := ReadTail(3)
	if err != nil {
		t.Fatal(err)
	}
	if out != "line 5\nline 6\nline 7" {
		t.Errorf("unexpected tail %q", out)
	}

	out, _ = ReadTail(100)
	if out != strings.Join(lines, "\n") {
		t.Errorf("expected whole file, got %q", out)
	}
}

func TestInitAndClear(t *testing.T) {
	path := withLogPath(t)
	Init()
	log.Printf("[terminal] hello")

	out, err := ReadTail(5)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[terminal] hello") {
		t.Errorf("expected mirrored log line, got %q", out)
	}

	if err := Clear(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != 0 {
		t.Errorf("expected empty log file after Clear, got %v %v", info, err)
	}
}
