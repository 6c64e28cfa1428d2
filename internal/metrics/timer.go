package metrics

import (
	"time"

	m "github.com/corvid-labs/durable/backend/metrics"
)

type Timer struct {
	client m.Client
	start  time.Time
	name   string
	tags   m.Tags
}

func NewTimer(client m.Client, name string, tags m.Tags) *Timer {
	return &Timer{
		client: client,
		start:  time.Now(),
		name:   name,
		tags:   tags,
	}
}

// Stop the timer and send the elapsed time as milliseconds as a distribution metric
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	t.client.Distribution(t.name, t.tags, float64(elapsed/time.Millisecond))
}
