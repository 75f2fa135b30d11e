package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// SyncLog is a line-oriented writer guarded by a single mutex. Every call
// produces exactly one Write on the underlying writer, so lines from different
// goroutines never interleave even when w itself is not safe for concurrent use.
//
// The lock covers the write only. Formatting happens before it is taken.
type SyncLog struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncLog wraps w. A nil writer logs to stdout.
func NewSyncLog(w io.Writer) *SyncLog {
	if w == nil {
		w = os.Stdout
	}
	return &SyncLog{w: w}
}

// Printf writes one line. A trailing newline is added when missing.
func (l *SyncLog) Printf(format string, v ...interface{}) {
	line := fmt.Sprintf(format, v...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	l.write(line)
}

// Println writes the operands as one space-separated line.
func (l *SyncLog) Println(v ...interface{}) {
	l.write(fmt.Sprintln(v...))
}

func (l *SyncLog) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, line); err != nil {
		Logf("synclog: write failed: %v", err)
	}
}
