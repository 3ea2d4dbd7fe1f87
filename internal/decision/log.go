package decision

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"skippy/internal/core"
	"skippy/internal/store"
)

// Log accumulates the decisions of one pass in append order and persists them
// as decisions.log.
//
// Appending is safe for concurrent use. The rendered bytes depend only on the
// appended decisions and their order, so identical inputs yield identical files.
type Log struct {
	mu        sync.Mutex
	decisions []core.Decision
}

func NewLog() *Log { return &Log{} }

// Append records one decision.
func (l *Log) Append(d core.Decision) {
	l.mu.Lock()
	l.decisions = append(l.decisions, d)
	l.mu.Unlock()
}

// Snapshot returns a copy of the decisions appended so far.
func (l *Log) Snapshot() []core.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Decision, len(l.decisions))
	copy(out, l.decisions)
	return out
}

// Bytes renders the log in decisions.log format, one line per decision.
func (l *Log) Bytes() []byte {
	var buf bytes.Buffer
	for _, d := range l.Snapshot() {
		buf.WriteString(d.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Finalize replaces <dir>/decisions.log with the current contents.
func (l *Log) Finalize(dir string) error {
	path := filepath.Join(dir, store.DecisionLogFile)
	if err := store.WriteFileAtomic(path, l.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", store.DecisionLogFile, err)
	}
	return nil
}

// ReadLog parses <dir>/decisions.log. A missing file is returned as an error
// satisfying errors.Is(err, fs.ErrNotExist).
func ReadLog(dir string) ([]core.Decision, error) {
	f, err := os.Open(filepath.Join(dir, store.DecisionLogFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []core.Decision
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		d, err := core.ParseDecision(line)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", store.DecisionLogFile, n, err)
		}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", store.DecisionLogFile, err)
	}
	return out, nil
}
