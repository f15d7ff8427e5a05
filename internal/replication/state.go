// Package replication follows an OSM replication feed, downloading each
// change file in sequence.
package replication

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// State is a position in a replication feed
type State struct {
	Sequence  int64
	Timestamp time.Time
}

func (s State) String() string {
	return fmt.Sprintf("sequence %d at %s", s.Sequence, s.Timestamp.Format(time.RFC3339))
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseState reads a state.txt document. Colons in the timestamp may be
// escaped as \: the way osmosis writes them.
func ParseState(r io.Reader) (*State, error) {
	state := &State{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "sequenceNumber":
			seq, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid sequence number: %w", err)
			}
			state.Sequence = seq
		case "timestamp":
			value = strings.ReplaceAll(value, `\:`, ":")
			var err error
			for _, layout := range timestampLayouts {
				var t time.Time
				if t, err = time.Parse(layout, value); err == nil {
					state.Timestamp = t
					break
				}
			}
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q: %w", value, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading state: %w", err)
	}
	return state, nil
}

// WriteState writes s in state.txt format
func WriteState(w io.Writer, s *State) error {
	ts := strings.ReplaceAll(s.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), ":", `\:`)
	_, err := fmt.Fprintf(w, "# tilequeue-go replication state\nsequenceNumber=%d\ntimestamp=%s\n", s.Sequence, ts)
	return err
}

// ReadStateFile reads a state file from disk
func ReadStateFile(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseState(f)
}

// WriteStateFile replaces the state file at path
func WriteStateFile(path string, s *State) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	err = WriteState(f, s)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp, path)
}

// SequencePath splits a sequence into the AAA/BBB/CCC directory layout
func SequencePath(seq int64) string {
	return fmt.Sprintf("%03d/%03d/%03d", seq/1000000, (seq/1000)%1000, seq%1000)
}
