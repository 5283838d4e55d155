package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker keeps the .no-quotes and .last-warmed files that make a
// warming pass resumable and idempotent within a day.
type progressTracker struct {
	mu       sync.Mutex
	noQuotes map[string]struct{}
	writer   *bufio.Writer
	file     *os.File
	dir      string
}

// newProgressTracker opens the tracker in dir and loads any existing
// .no-quotes entries.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}

	pt := &progressTracker{
		noQuotes: make(map[string]struct{}),
		dir:      dir,
	}

	path := filepath.Join(dir, ".no-quotes")
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if t := strings.TrimSpace(line); t != "" {
				pt.noQuotes[t] = struct{}{}
			}
		}
	}

	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(filepath.Join(p.dir, ".no-quotes"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening .no-quotes: %w", err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// HasNoQuotes reports whether ticker already came back empty today.
func (p *progressTracker) HasNoQuotes(ticker string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.noQuotes[ticker]
	return ok
}

// MarkNoQuotes records ticker as having no data.
func (p *progressTracker) MarkNoQuotes(ticker string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.noQuotes[ticker]; ok {
		return nil
	}
	p.noQuotes[ticker] = struct{}{}
	if _, err := p.writer.WriteString(ticker + "\n"); err != nil {
		return fmt.Errorf("writing .no-quotes: %w", err)
	}
	return p.writer.Flush()
}

// MarkCompleted writes date to .last-warmed.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(filepath.Join(p.dir, ".last-warmed"), []byte(date), 0o644)
}

// LastCompleted returns the date in .last-warmed, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, ".last-warmed"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsCompleted reports whether .last-warmed holds date.
func (p *progressTracker) IsCompleted(date string) bool {
	return p.LastCompleted() == date
}

// Reset clears the .no-quotes set.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file != nil {
		p.file.Close()
	}
	p.noQuotes = make(map[string]struct{})
	os.Remove(filepath.Join(p.dir, ".no-quotes"))
	return p.open()
}

// Close flushes and closes the .no-quotes file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
