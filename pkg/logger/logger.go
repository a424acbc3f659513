// Package logger collapses bursts of identical log lines. A batch refresh
// against a blocking site otherwise prints the same failure once per booking.
package logger

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type Deduper struct {
	out        *log.Logger
	flushDelay time.Duration

	mu      sync.Mutex
	lastMsg string
	count   int
	timer   *time.Timer
}

func New(out *log.Logger, flushDelay time.Duration) *Deduper {
	if out == nil {
		out = log.Default()
	}
	return &Deduper{out: out, flushDelay: flushDelay}
}

var std = New(nil, 2*time.Second)

// Dedup logs through the process-wide deduper.
func Dedup(format string, args ...any) {
	std.Printf(format, args...)
}

// Flush writes any pending line of the process-wide deduper. Call it when a
// run finishes so its last lines are not held back.
func Flush() {
	std.Flush()
}

func (d *Deduper) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg != d.lastMsg {
		d.flushLocked()
		d.lastMsg = msg
	}
	d.count++

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.flushDelay, d.Flush)
}

func (d *Deduper) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Deduper) flushLocked() {
	switch d.count {
	case 0:
		return
	case 1:
		d.out.Print(d.lastMsg)
	default:
		d.out.Printf("%s (x%d)", d.lastMsg, d.count)
	}
	d.count = 0
	d.lastMsg = ""
}
