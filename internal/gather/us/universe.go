package us

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ohlcvsync/internal/domain"
)

// SnapshotWriter records each run's universe as <dir>/YYYY-MM-DD.txt, one
// ticker per line, sorted and deduplicated.
type SnapshotWriter struct {
	dir string
}

// NewSnapshotWriter creates a writer rooted at dir.
func NewSnapshotWriter(dir string) *SnapshotWriter {
	return &SnapshotWriter{dir: dir}
}

// Write merges tickers into the snapshot for date and returns its path. A
// second run on the same day extends the file instead of replacing it.
func (w *SnapshotWriter) Write(date time.Time, tickers []string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}

	path := filepath.Join(w.dir, date.Format(domain.DateLayout)+".txt")
	lines := append([]string(nil), tickers...)
	if data, err := os.ReadFile(path); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	out := sortDedup(lines)
	body := ""
	if len(out) > 0 {
		body = strings.Join(out, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return path, nil
}

// sortDedup trims, sorts and deduplicates lines, dropping blanks.
func sortDedup(lines []string) []string {
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	sort.Strings(lines)

	deduped := make([]string, 0, len(lines))
	prev := ""
	for _, line := range lines {
		if line != "" && line != prev {
			deduped = append(deduped, line)
			prev = line
		}
	}
	return deduped
}
