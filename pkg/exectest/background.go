// Package exectest helps running subprocesses as part of tests.
//
// Check the test files of this package for examples.
package exectest

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"
	"testing"
)

// Installed reports whether all named programs are found in $PATH.
func Installed(programs ...string) bool {
	for _, program := range programs {
		if _, err := exec.LookPath(program); err != nil {
			return false
		}
	}
	return true
}

// Background is a command run in the background of a test.
type Background struct {
	tb      testing.TB
	Cmd     *exec.Cmd
	wg      sync.WaitGroup
	done    chan struct{}
	err     error
	errLock sync.Mutex
	// Log command output to tests.
	Name      string
	LogStdout bool
	LogStderr bool
}

// NewBackground prepares a command to run in the background of a test.
func NewBackground(tb testing.TB, cmd *exec.Cmd) *Background {
	return &Background{
		tb:   tb,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
}

// Start spawns a goroutine running the process in the background.
// After calling Start, accessing the provided exec.Cmd is unsafe until Close() returns.
// Can only be called once.
func (b *Background) Start() {
	var prefix string
	if b.Name != "" {
		prefix = b.Name + ": "
	}
	var captures []*PipeCapture
	if b.LogStdout {
		capture := &PipeCapture{Prefix: prefix, TB: b.tb}
		b.Cmd.Stdout = capture
		captures = append(captures, capture)
	}
	if b.LogStderr {
		capture := &PipeCapture{Prefix: prefix, TB: b.tb}
		b.Cmd.Stderr = capture
		captures = append(captures, capture)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		err := b.Cmd.Run()
		for _, capture := range captures {
			capture.Flush()
		}
		b.errLock.Lock()
		b.err = err
		b.errLock.Unlock()
	}()
}

// Close must be called before the test context completes,
// regardless whether the command exited successfully.
// Close is idempotent.
func (b *Background) Close() {
	if b.Cmd.Process != nil {
		_ = b.Cmd.Process.Kill()
	}
	b.wg.Wait()
}

// Done returns a channel that closes when the command exits.
func (b *Background) Done() <-chan struct{} {
	return b.done
}

// Err returns any error that occurred with the process.
func (b *Background) Err() error {
	b.errLock.Lock()
	defer b.errLock.Unlock()
	return b.err
}

// PipeCapture writes each line of a process output stream to the test log.
type PipeCapture struct {
	TB     testing.TB
	Prefix string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (w *PipeCapture) Write(buf []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(buf)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the incomplete line for the next write.
			rest := line
			w.buf.Reset()
			w.buf.WriteString(rest)
			break
		}
		w.line(strings.TrimSuffix(line, "\n"))
	}
	return len(buf), nil
}

// Flush logs the remaining incomplete line.
func (w *PipeCapture) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.line(w.buf.String())
	}
	w.buf.Reset()
}

func (w *PipeCapture) line(s string) {
	w.TB.Log(w.Prefix + s)
}
