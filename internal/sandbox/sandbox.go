// Package sandbox executes generated Python analysis code in per-thread
// working directories.
//
// A Pool owned by the host application hands out one Sandbox per thread id,
// rooted at <root>/<thread_id>/, so concurrent runs never share figures or
// scratch files. Node functions reach the pool through the run context.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by a Pool after Close.
var ErrClosed = errors.New("sandbox pool closed")

// Result is the outcome of one code execution.
type Result struct {
	// Output is the combined stdout and stderr, trimmed.
	Output string

	// Failed reports a non-zero exit, a timeout or a Python traceback.
	Failed bool

	Duration time.Duration
}

// Sandbox runs code for a single thread.
type Sandbox interface {
	// Exec runs code with the sandbox directory as working directory. A
	// failing script is reported through Result.Failed; the error return is
	// reserved for failures to launch the interpreter.
	Exec(ctx context.Context, code string) (Result, error)

	// Dir is the thread's working directory.
	Dir() string

	// Reset discards every file produced so far.
	Reset() error
}

// Factory creates the Sandbox for a working directory.
type Factory func(dir string) Sandbox

// Pool hands out one Sandbox per thread id.
//
// Safe for concurrent use.
type Pool struct {
	root    string
	factory Factory

	mu     sync.Mutex
	boxes  map[string]Sandbox
	closed bool
}

// NewPool creates a pool rooted at root. A nil factory runs python3 with a
// two minute limit per execution.
func NewPool(root string, factory Factory) *Pool {
	if factory == nil {
		factory = ProcessFactory("python3", 2*time.Minute)
	}
	return &Pool{
		root:    root,
		factory: factory,
		boxes:   make(map[string]Sandbox),
	}
}

// Root returns the directory holding every thread's working directory.
func (p *Pool) Root() string {
	return p.root
}

// Get returns the thread's sandbox, creating its directory on first use.
func (p *Pool) Get(threadID string) (Sandbox, error) {
	if threadID == "" || threadID == "." || threadID != filepath.Base(threadID) || !filepath.IsLocal(threadID) {
		return nil, fmt.Errorf("invalid sandbox thread id %q", threadID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if box, ok := p.boxes[threadID]; ok {
		return box, nil
	}

	dir := filepath.Join(p.root, threadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	box := p.factory(abs)
	p.boxes[threadID] = box
	return box, nil
}

// Reset clears the thread's sandbox. Unknown threads are a no-op.
func (p *Pool) Reset(threadID string) error {
	p.mu.Lock()
	box, ok := p.boxes[threadID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return box.Reset()
}

// Release forgets the thread's sandbox and removes its directory.
func (p *Pool) Release(threadID string) error {
	p.mu.Lock()
	box, ok := p.boxes[threadID]
	delete(p.boxes, threadID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return os.RemoveAll(box.Dir())
}

// Threads returns the thread ids with a live sandbox, sorted.
func (p *Pool) Threads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.boxes))
	for id := range p.boxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops handing out sandboxes. Working directories are kept so
// figures remain available to reports.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.boxes = make(map[string]Sandbox)
	return nil
}

// FigureName returns the file name of the n-th figure of an analysis cycle.
func FigureName(cycle, n int) string {
	return fmt.Sprintf("figure_%d_%d.png", cycle, n)
}

// Figures lists the figures of a cycle in dir, sorted by name.
func Figures(dir string, cycle int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("figure_%d_*.png", cycle)))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ClearFigures removes the figures of a cycle from dir so a retried attempt
// does not report stale images.
func ClearFigures(dir string, cycle int) error {
	figures, err := Figures(dir, cycle)
	if err != nil {
		return err
	}
	for _, f := range figures {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
