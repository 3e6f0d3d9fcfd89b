package main

import (
	"bytes"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
)

var stdinTerminal int32 = -1 // -1 = unchecked, 0 = no, 1 = yes

func stdinIsTerminal() bool {
	if v := atomic.LoadInt32(&stdinTerminal); v >= 0 {
		return v == 1
	}
	result := term.IsTerminal(int(os.Stdin.Fd()))
	if result {
		atomic.StoreInt32(&stdinTerminal, 1)
	} else {
		atomic.StoreInt32(&stdinTerminal, 0)
	}
	return result
}

// syncBuffer collects script output while the interactive prompt owns the
// screen. Threads print from their own goroutines.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// Take returns the buffered output and resets the buffer.
func (b *syncBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}
