package us

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/gather"
)

// LoadCSVSymbols reads the "symbol" column (or the first column when no
// header is named "symbol") from a CSV file with a header row.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header %s: %w", path, err)
	}

	symbolIdx := 0
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "symbol") {
			symbolIdx = i
			break
		}
	}

	var symbols []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV %s: %w", path, err)
		}
		if len(row) > symbolIdx {
			if sym := strings.TrimSpace(row[symbolIdx]); sym != "" {
				symbols = append(symbols, strings.ToUpper(sym))
			}
		}
	}
	return symbols, nil
}

// LoadTextSymbols reads one symbol per line, skipping blanks and '#'
// comments.
func LoadTextSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol list %s: %w", path, err)
	}
	defer f.Close()

	var symbols []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading symbol list %s: %w", path, err)
	}
	return symbols, nil
}

// FileUniverseSource reads the universe from a local CSV or text file,
// re-read on every call.
type FileUniverseSource struct {
	Path string
	log  *slog.Logger
}

var _ gather.UniverseSource = (*FileUniverseSource)(nil)

// NewFileUniverseSource returns a source reading path.
func NewFileUniverseSource(path string, log *slog.Logger) *FileUniverseSource {
	if log == nil {
		log = slog.Default()
	}
	return &FileUniverseSource{Path: path, log: log.With("source", "file")}
}

// TodayTickers loads and normalises the file's symbols.
func (s *FileUniverseSource) TodayTickers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		raw []string
		err error
	)
	if strings.EqualFold(filepath.Ext(s.Path), ".csv") {
		raw, err = LoadCSVSymbols(s.Path)
	} else {
		raw, err = LoadTextSymbols(s.Path)
	}
	if err != nil {
		return nil, err
	}
	return normalizeUniverse(raw, s.log), nil
}

// normalizeUniverse normalises, dedupes and sorts raw symbols, logging the
// ones that fail validation.
func normalizeUniverse(raw []string, log *slog.Logger) []string {
	tickers, invalid := domain.NormalizeTickers(raw)
	if len(invalid) > 0 {
		log.Warn("dropping invalid symbols", "count", len(invalid), "sample", sample(invalid, 10))
	}
	return tickers
}

func sample(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
