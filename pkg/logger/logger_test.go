package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduperCollapsesRepeats(t *testing.T) {
	var buf bytes.Buffer
	d := New(log.New(&buf, "", 0), time.Hour)

	d.Printf("[REFRESH] fetch failed: %s", "HTTP 403")
	d.Printf("[REFRESH] fetch failed: %s", "HTTP 403")
	d.Printf("[REFRESH] fetch failed: %s", "HTTP 403")
	d.Printf("[REFRESH] batch %d done", 1)
	d.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"[REFRESH] fetch failed: HTTP 403 (x3)",
		"[REFRESH] batch 1 done",
	}, lines)
}

func TestDeduperFlushesAfterDelay(t *testing.T) {
	var buf bytes.Buffer
	d := New(log.New(&buf, "", 0), 10*time.Millisecond)

	d.Printf("[SYNC] imported %s", "4711")

	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return strings.Contains(buf.String(), "[SYNC] imported 4711")
	}, time.Second, 5*time.Millisecond)
}

func TestFlushWithoutPending(t *testing.T) {
	var buf bytes.Buffer
	d := New(log.New(&buf, "", 0), time.Hour)
	d.Flush()
	assert.Empty(t, buf.String())
}
