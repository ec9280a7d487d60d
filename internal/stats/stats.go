// Package stats collects per-run transfer timings for the harnesses and
// renders them as a table.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/table"
)

// Run is one recorded transfer.
type Run struct {
	Index      int
	Elapsed    time.Duration
	Throughput float64 // MB/s
	Bytes      int64
}

// Collector is an append-only, ordered list of runs. It is safe for
// concurrent use.
type Collector struct {
	mu   sync.Mutex
	runs []Run
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Throughput converts a transfer size and duration into MB/s (10^6 bytes).
// A zero or negative duration yields 0.
func Throughput(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / 1e6 / elapsed.Seconds()
}

// Record appends a run.
func (c *Collector) Record(index int, elapsed time.Duration, throughput float64) {
	c.RecordTransfer(Run{Index: index, Elapsed: elapsed, Throughput: throughput})
}

// RecordTransfer appends a run that also carries its byte count.
func (c *Collector) RecordTransfer(r Run) {
	c.mu.Lock()
	c.runs = append(c.runs, r)
	c.mu.Unlock()
}

// Runs returns a copy of the recorded runs in insertion order.
func (c *Collector) Runs() []Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Run, len(c.runs))
	copy(out, c.runs)
	return out
}

// Len returns the number of recorded runs.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// Averages returns the mean elapsed time and throughput, zero when empty.
func (c *Collector) Averages() (time.Duration, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.runs) == 0 {
		return 0, 0
	}

	var elapsed time.Duration
	var speed float64
	for _, r := range c.runs {
		elapsed += r.Elapsed
		speed += r.Throughput
	}
	n := len(c.runs)
	return elapsed / time.Duration(n), speed / float64(n)
}

// Report renders every run followed by the averages.
func (c *Collector) Report(w io.Writer) error {
	runs := c.Runs()
	avgElapsed, avgSpeed := c.Averages()

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Run", "Bytes", "Time (ms)", "Speed (MB/s)"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.Index,
			r.Bytes,
			fmt.Sprintf("%.3f", milliseconds(r.Elapsed)),
			fmt.Sprintf("%.3f", r.Throughput),
		})
	}
	t.AppendFooter(table.Row{
		"Average",
		"",
		fmt.Sprintf("%.3f", milliseconds(avgElapsed)),
		fmt.Sprintf("%.3f", avgSpeed),
	})

	_, err := fmt.Fprintf(w, "Stats: %d runs\n%s\n", len(runs), t.Render())
	return err
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
