package perfstats

import (
	"fmt"
	"strings"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// Since adds the time elapsed since start
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages times the named steps of a repeated process, such as per-frame processing.
// Stages are reported in the order that they were first seen.
type Stages struct {
	names  []string
	timers map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{timers: map[string]*TimeAccumulator{}}
}

// Get returns the accumulator for the named stage, creating it if necessary
func (s *Stages) Get(name string) *TimeAccumulator {
	acc, ok := s.timers[name]
	if !ok {
		acc = &TimeAccumulator{}
		s.timers[name] = acc
		s.names = append(s.names, name)
	}
	return acc
}

// Summary is a single line, eg "detect: 41.2ms, annotate: 0.3ms"
func (s *Stages) Summary() string {
	parts := make([]string, 0, len(s.names))
	for _, name := range s.names {
		avg := s.timers[name].Average()
		parts = append(parts, fmt.Sprintf("%v: %.1fms", name, float64(avg.Microseconds())/1000))
	}
	return strings.Join(parts, ", ")
}
