package toi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// Write writes one z/x/y line per coordinate, sorted by packed value.
func Write(w io.Writer, s Set) error {
	bw := bufio.NewWriter(w)
	for _, v := range s.Sorted() {
		fmt.Fprintln(bw, coord.UnmarshalInt(v).String())
	}
	return bw.Flush()
}

// WriteGzip is Write through a gzip stream
func WriteGzip(w io.Writer, s Set) error {
	zw := gzip.NewWriter(w)
	if err := Write(zw, s); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Read parses z/x/y lines. Blank lines are skipped and duplicates collapse.
func Read(r io.Reader) (Set, error) {
	s := make(Set)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c, err := coord.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		s.Add(c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadGzip is Read from a gzip stream
func ReadGzip(r io.Reader) (Set, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()
	return Read(zr)
}

func isGzipPath(path string) bool {
	return strings.HasSuffix(path, ".gz")
}

// ReadFile loads a set from path, gunzipping files ending in .gz
func ReadFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tiles of interest: %w", err)
	}
	defer f.Close()
	if isGzipPath(path) {
		return ReadGzip(f)
	}
	return Read(f)
}

// WriteFile stores s at path, gzipped when path ends in .gz. The file is
// written beside path and renamed into place.
func WriteFile(path string, s Set) error {
	tmpFile := path + ".tmp"
	out, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create tiles of interest file: %w", err)
	}

	if isGzipPath(path) {
		err = WriteGzip(out, s)
	} else {
		err = Write(out, s)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write tiles of interest file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename tiles of interest file: %w", err)
	}

	logSummary("Wrote tiles of interest", path, s)
	return nil
}

func logSummary(msg, where string, s Set) {
	counts := s.CountByZoom()
	zooms := make([]int, 0, len(counts))
	for z := range counts {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	fields := make([]zap.Field, 0, len(counts)+2)
	fields = append(fields, zap.String("location", where))
	for _, z := range zooms {
		fields = append(fields, zap.Int(fmt.Sprintf("z%d", z), counts[z]))
	}
	fields = append(fields, zap.Int("total", len(s)))
	logger.Get().Info(msg, fields...)
}
