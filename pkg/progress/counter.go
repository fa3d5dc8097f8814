package progress

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	progressDone = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fsdl_progress_done",
		Help: "Units completed in the current stage",
	}, []string{"stage"})

	progressTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fsdl_progress_total",
		Help: "Units expected in the current stage",
	}, []string{"stage"})
)

// Counter is a running total shared by concurrent workers. Updates are
// emitted under a lock so that the reported Done value never decreases.
type Counter struct {
	mu       sync.Mutex
	reporter Reporter
	stage    string
	total    int
	done     int
	label    string
}

// NewCounter starts a stage of total units. label is a format string
// receiving the running total, e.g. "%d features appended".
func NewCounter(r Reporter, stage string, total int, label string) *Counter {
	if r == nil {
		r = Nop{}
	}
	progressTotal.WithLabelValues(stage).Set(float64(total))
	progressDone.WithLabelValues(stage).Set(0)
	return &Counter{
		reporter: r,
		stage:    stage,
		total:    total,
		label:    label,
	}
}

// Add advances the counter by n and reports the new total.
func (c *Counter) Add(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.done += n
	progressDone.WithLabelValues(c.stage).Set(float64(c.done))
	c.reporter.Progress(Update{
		Stage: c.stage,
		Done:  c.done,
		Total: c.total,
		Label: fmt.Sprintf(c.label, c.done),
	})
	return c.done
}

// Done returns the running total.
func (c *Counter) Done() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
