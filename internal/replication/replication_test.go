package replication

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSeq int64
		wantTS  time.Time
		wantErr bool
	}{
		{
			name: "standard OSM state file",
			input: `#Sat Jan 15 12:00:00 UTC 2024
sequenceNumber=12345
timestamp=2024-01-15T12\:00\:00Z`,
			wantSeq: 12345,
			wantTS:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "state with extra whitespace",
			input: `  # comment
  sequenceNumber = 67890
  timestamp = 2024-06-20T08\:30\:00Z  `,
			wantSeq: 67890,
			wantTS:  time.Date(2024, 6, 20, 8, 30, 0, 0, time.UTC),
		},
		{
			name:    "space separated timestamp",
			input:   "sequenceNumber=100\ntimestamp=2024-03-10 15:45:00",
			wantSeq: 100,
			wantTS:  time.Date(2024, 3, 10, 15, 45, 0, 0, time.UTC),
		},
		{
			name:    "invalid sequence number",
			input:   "sequenceNumber=abc\ntimestamp=2024-01-01T00:00:00Z",
			wantErr: true,
		},
		{
			name:    "invalid timestamp",
			input:   "sequenceNumber=100\ntimestamp=invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := ParseState(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if state.Sequence != tt.wantSeq {
				t.Errorf("Sequence = %d, want %d", state.Sequence, tt.wantSeq)
			}
			if !state.Timestamp.Equal(tt.wantTS) {
				t.Errorf("Timestamp = %v, want %v", state.Timestamp, tt.wantTS)
			}
		})
	}
}

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")
	in := &State{Sequence: 6321543, Timestamp: time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)}
	if err := WriteStateFile(path, in); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `timestamp=2024-05-01T10\:20\:30Z`) {
		t.Errorf("timestamp not escaped: %s", raw)
	}
	out, err := ReadStateFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.Sequence != in.Sequence || !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestSequencePath(t *testing.T) {
	tests := []struct {
		seq  int64
		want string
	}{
		{0, "000/000/000"},
		{999, "000/000/999"},
		{1000, "000/001/000"},
		{1234567, "001/234/567"},
		{12345678, "012/345/678"},
	}
	for _, tt := range tests {
		if got := SequencePath(tt.seq); got != tt.want {
			t.Errorf("SequencePath(%d) = %q, want %q", tt.seq, got, tt.want)
		}
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		input       string
		wantName    string
		wantBaseURL string
		wantErr     bool
	}{
		{"planet-minute", "planet-minute", "https://planet.openstreetmap.org/replication/minute", false},
		{"hour", "planet-hour", "https://planet.openstreetmap.org/replication/hour", false},
		{"Day", "planet-day", "https://planet.openstreetmap.org/replication/day", false},
		{"geofabrik/europe/monaco", "geofabrik/europe/monaco", "https://download.geofabrik.de/europe/monaco-updates", false},
		{"https://my-server.com/replication/", "custom", "https://my-server.com/replication", false},
		{"geofabrik/", "", "", true},
		{"unknown-source-xyz", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			source, err := ParseSource(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if source.Name != tt.wantName || source.BaseURL != tt.wantBaseURL {
				t.Errorf("got %+v, want %s %s", source, tt.wantName, tt.wantBaseURL)
			}
		})
	}
}

func TestSourceURLs(t *testing.T) {
	source, _ := ParseSource("minute")
	if got := source.SequenceStateURL(1234567); got != "https://planet.openstreetmap.org/replication/minute/001/234/567.state.txt" {
		t.Errorf("SequenceStateURL = %q", got)
	}
	if got := source.DiffURL(1234567); got != "https://planet.openstreetmap.org/replication/minute/001/234/567.osc.gz" {
		t.Errorf("DiffURL = %q", got)
	}
}

// feed serves a replication directory with the latest sequence 101
func feed(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var diffs atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/state.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sequenceNumber=101\ntimestamp=2024-01-15T12\\:01\\:00Z\n"))
	})
	mux.HandleFunc("/000/000/101.state.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sequenceNumber=101\ntimestamp=2024-01-15T12\\:01\\:00Z\n"))
	})
	mux.HandleFunc("/000/000/101.osc.gz", func(w http.ResponseWriter, r *http.Request) {
		diffs.Add(1)
		w.Write([]byte("change-101"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &diffs
}

func TestFollower(t *testing.T) {
	ctx := context.Background()
	srv, diffs := feed(t)
	dir := t.TempDir()
	source, err := ParseSource(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	client := NewClient(source, filepath.Join(dir, "cache"))
	stateFile := filepath.Join(dir, "state.txt")

	f := NewFollower(client, stateFile)
	if err := f.Load(); err != ErrNotInitialized {
		t.Fatalf("Load before init = %v, want ErrNotInitialized", err)
	}
	if err := WriteStateFile(stateFile, &State{Sequence: 100, Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatal(err)
	}
	if err := f.Load(); err != nil {
		t.Fatal(err)
	}

	status, err := f.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Behind != 1 || status.Lag != time.Minute {
		t.Errorf("status = %+v", status)
	}

	u, err := f.Next(ctx)
	if err != nil || u == nil {
		t.Fatalf("Next = %v, %v", u, err)
	}
	data, _ := os.ReadFile(u.Path)
	if string(data) != "change-101" {
		t.Errorf("diff content = %q", data)
	}
	if err := f.Commit(u); err != nil {
		t.Fatal(err)
	}
	if f.State().Sequence != 101 {
		t.Errorf("sequence after commit = %d", f.State().Sequence)
	}

	// 102 is not published yet
	u, err = f.Next(ctx)
	if err != nil || u != nil {
		t.Errorf("Next past the end = %v, %v", u, err)
	}

	// a second download of 101 comes from the cache
	if _, err := client.Diff(ctx, 101); err != nil {
		t.Fatal(err)
	}
	if diffs.Load() != 1 {
		t.Errorf("diff downloaded %d times", diffs.Load())
	}
}

func TestFollowerInit(t *testing.T) {
	srv, _ := feed(t)
	source, _ := ParseSource(srv.URL)
	stateFile := filepath.Join(t.TempDir(), "state.txt")
	f := NewFollower(NewClient(source, t.TempDir()), stateFile)
	if err := f.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, err := ReadStateFile(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	if s.Sequence != 101 {
		t.Errorf("initial sequence = %d", s.Sequence)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("sequenceNumber=7\ntimestamp=2024-01-01T00\\:00\\:00Z\n"))
	}))
	defer srv.Close()

	source, _ := ParseSource(srv.URL)
	client := NewClient(source, t.TempDir())
	client.retryDelay = time.Millisecond

	state, err := client.LatestState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.Sequence != 7 || hits.Load() != 3 {
		t.Errorf("sequence %d after %d requests", state.Sequence, hits.Load())
	}

	client.maxRetries = 0
	hits.Store(0)
	if _, err := client.LatestState(context.Background()); err == nil {
		t.Error("expected error without retries")
	}
}
