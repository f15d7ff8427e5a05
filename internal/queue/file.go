package queue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FileQueue reads payloads line by line from a file and appends enqueued
// payloads to it. Once every line has been read, Read returns ErrExhausted.
type FileQueue struct {
	path string

	mu     sync.Mutex
	f      *os.File
	r      *bufio.Reader
	lineNo int
}

// NewFileQueue returns a queue over path. The file is opened on first read.
func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

func (q *FileQueue) Enqueue(ctx context.Context, payload string) error {
	return q.EnqueueBatch(ctx, []string{payload})
}

func (q *FileQueue) EnqueueBatch(_ context.Context, payloads []string) error {
	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open queue file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range payloads {
		if strings.ContainsRune(p, '\n') {
			return fmt.Errorf("payload %q contains a newline", p)
		}
		fmt.Fprintln(w, p)
	}
	return w.Flush()
}

func (q *FileQueue) Read(_ context.Context, max int) ([]*MessageHandle, error) {
	if max <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.r == nil {
		f, err := os.Open(q.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrExhausted
			}
			return nil, fmt.Errorf("failed to open queue file: %w", err)
		}
		q.f = f
		q.r = bufio.NewReader(f)
	}

	var msgs []*MessageHandle
	for len(msgs) < max {
		line, err := q.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			q.lineNo++
			msgs = append(msgs, &MessageHandle{Handle: strconv.Itoa(q.lineNo), Payload: line})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return msgs, fmt.Errorf("failed to read queue file: %w", err)
		}
	}
	if len(msgs) == 0 {
		return nil, ErrExhausted
	}
	return msgs, nil
}

func (q *FileQueue) JobDone(_ context.Context, h *MessageHandle) error {
	return h.markDone()
}

// Clear truncates the file and returns the number of unread lines it held
func (q *FileQueue) Clear(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var r io.Reader
	if q.r != nil {
		r = q.r
	} else {
		f, err := os.Open(q.path)
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to open queue file: %w", err)
		}
		defer f.Close()
		r = f
	}
	n := 0
	s := bufio.NewScanner(r)
	for s.Scan() {
		if s.Text() != "" {
			n++
		}
	}

	if err := os.Truncate(q.path, 0); err != nil {
		return 0, fmt.Errorf("failed to truncate queue file: %w", err)
	}
	q.closeReader()
	return n, nil
}

func (q *FileQueue) closeReader() error {
	var err error
	if q.f != nil {
		err = q.f.Close()
	}
	q.f, q.r, q.lineNo = nil, nil, 0
	return err
}

func (q *FileQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closeReader()
}
