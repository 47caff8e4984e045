package sinks

import (
	"context"
	"sort"
	"sync"

	"github.com/kruyneg/information-retrieval/internal/progress"
)

// HostTally is the per-host view exposed by the status endpoint.
type HostTally struct {
	Host      string `json:"host"`
	State     string `json:"state"`
	Fetched   int64  `json:"fetched"`
	Stored    int64  `json:"stored"`
	NotFound  int64  `json:"not_found"`
	Failed    int64  `json:"failed"`
	Bytes     int64  `json:"bytes"`
	LastURL   string `json:"last_url,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Host states reported by TallySink.
const (
	HostRunning = "running"
	HostDone    = "done"
	HostFailed  = "failed"
)

// TallySink folds events into per-host counters kept in memory.
type TallySink struct {
	mu    sync.RWMutex
	hosts map[string]*HostTally
}

// NewTallySink returns an empty tally.
func NewTallySink() *TallySink {
	return &TallySink{hosts: make(map[string]*HostTally)}
}

// Consume folds batch into the tally.
func (s *TallySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Host == "" {
			continue
		}
		t := s.hosts[evt.Host]
		if t == nil {
			t = &HostTally{Host: evt.Host, State: HostRunning}
			s.hosts[evt.Host] = t
		}
		switch evt.Stage {
		case progress.StageHostStart:
			t.State = HostRunning
		case progress.StageHostDone:
			t.State = HostDone
		case progress.StageHostError:
			t.State = HostFailed
			t.LastError = evt.Note
		case progress.StageFetchDone:
			t.Fetched++
			t.Bytes += evt.Bytes
			t.LastURL = evt.URL
			switch evt.StatusClass {
			case progress.Status2xx:
			case progress.Status4xx:
				if evt.Note == "404" {
					t.NotFound++
				} else {
					t.Failed++
				}
			default:
				t.Failed++
			}
		case progress.StageDocStored:
			t.Stored++
		}
	}
	return nil
}

// Snapshot returns a copy of every host tally ordered by host.
func (s *TallySink) Snapshot() []HostTally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HostTally, 0, len(s.hosts))
	for _, t := range s.hosts {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Close implements progress.Sink.
func (s *TallySink) Close(context.Context) error {
	return nil
}
