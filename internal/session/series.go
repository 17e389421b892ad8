package session

import (
	"math"
	"sync"

	"proctor/pkg/types"
)

// timeSeries holds the majority samples of every examinee seen since the
// process started. The frame loop is the only writer.
type timeSeries struct {
	mu   sync.RWMutex
	data map[string][]types.Sample
}

func newTimeSeries() *timeSeries {
	return &timeSeries{data: make(map[string][]types.Sample)}
}

// ensure creates an empty series for username if none exists yet
func (s *timeSeries) ensure(username string) {
	s.mu.Lock()
	if _, ok := s.data[username]; !ok {
		s.data[username] = []types.Sample{}
	}
	s.mu.Unlock()
}

func (s *timeSeries) append(username string, sample types.Sample) {
	s.mu.Lock()
	s.data[username] = append(s.data[username], sample)
	s.mu.Unlock()
}

// snapshot returns a copy of the series of username
func (s *timeSeries) snapshot(username string) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.data[username]
	out := make([]types.Sample, len(src))
	copy(out, src)
	return out
}

// Stats summarises a user's time series.
type Stats struct {
	Username             string  `json:"username"`
	TotalEntries         int     `json:"total_entries"`
	CheatingInstances    int     `json:"cheating_instances"`
	NonCheatingInstances int     `json:"non_cheating_instances"`
	CheatingPercentage   float64 `json:"cheating_percentage"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	ExamCompleted        bool    `json:"exam_completed"`
}

// Summarize computes statistics over samples. The total duration is the
// elapsed time of the last sample.
func Summarize(username string, samples []types.Sample) Stats {
	st := Stats{Username: username, TotalEntries: len(samples)}
	for _, s := range samples {
		if s.MajorityCheating {
			st.CheatingInstances++
		}
	}
	st.NonCheatingInstances = st.TotalEntries - st.CheatingInstances
	if st.TotalEntries > 0 {
		st.CheatingPercentage = round2(float64(st.CheatingInstances) / float64(st.TotalEntries) * 100)
		st.TotalDurationSeconds = round2(samples[len(samples)-1].ElapsedSeconds)
	}
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
