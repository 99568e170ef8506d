package llm

import (
	"iter"
	"strings"
	"time"
)

// Collector accumulates streamed chunks into the full response.
type Collector struct {
	buf       strings.Builder
	Citations []Citation
	URLs      []URLStatus
	Chunks    int
	StartTime time.Time
	EndTime   time.Time
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

// Add appends a chunk's delta and keeps its terminal metadata. It returns
// the full text so far.
func (c *Collector) Add(chunk Chunk) string {
	c.Chunks++
	c.buf.WriteString(chunk.Text)
	if len(chunk.Citations) > 0 {
		c.Citations = chunk.Citations
	}
	if len(chunk.URLs) > 0 {
		c.URLs = chunk.URLs
	}
	return c.buf.String()
}

// Text returns the full text so far
func (c *Collector) Text() string {
	return c.buf.String()
}

// Duration returns how long collection took, or has taken so far
func (c *Collector) Duration() time.Duration {
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// Collect drains a stream. On error the partial collector is returned too.
func Collect(seq iter.Seq2[Chunk, error]) (*Collector, error) {
	c := NewCollector()
	defer func() { c.EndTime = time.Now() }()
	for chunk, err := range seq {
		if err != nil {
			return c, err
		}
		c.Add(chunk)
	}
	return c, nil
}
