package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/searchktools/fast-static/core/buffer"
	"github.com/searchktools/fast-static/core/observability"
	"github.com/searchktools/fast-static/core/pools"
)

// Stats is a snapshot of engine counters
type Stats struct {
	Users     int                    `json:"users"`
	Accepted  uint64                 `json:"accepted"`
	Rejected  uint64                 `json:"rejected"`
	Evicted   uint64                 `json:"evicted"`
	Workers   pools.WorkerPoolStats  `json:"workers"`
	Spill     pools.SlabPoolStats    `json:"spill"`
	Responses observability.Snapshot `json:"responses"`
	GC        pools.GCStats          `json:"gc"`
}

// Stats returns the current engine statistics
func (e *Engine) Stats() Stats {
	stats := Stats{
		Users:     int(e.live.Load()),
		Accepted:  e.accepted.Load(),
		Rejected:  e.rejected.Load(),
		Evicted:   e.evicted.Load(),
		Responses: e.monitor.Snapshot(),
		Spill:     buffer.SpillStats(),
		GC:        pools.GetGCStats(),
	}
	if e.workers != nil {
		stats.Workers = e.workers.Stats()
	}
	return stats
}

// StatsJSON returns engine statistics as a JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Server Statistics
=================

Connections:
  Open:     %d
  Accepted: %d
  Rejected: %d
  Evicted:  %d

Responses:
  Total: %d
  Bytes: %d
%s
Worker Pool:
  Workers:   %d
  Submitted: %d
  Completed: %d
  Backlog:   %d
  Steals:    %d ok / %d failed

Read Spill:
  Gets:   %d
  Allocs: %d

GC:
  Collections: %d
  Pause total: %v
  Heap:        %d bytes
`,
		s.Users, s.Accepted, s.Rejected, s.Evicted,
		s.Responses.Total, s.Responses.Bytes, codeLines(s.Responses),
		s.Workers.NumWorkers, s.Workers.TasksSubmitted, s.Workers.TasksCompleted,
		s.Workers.Backlog, s.Workers.StealsSuccess, s.Workers.StealsFailed,
		s.Spill.Gets, s.Spill.Allocs,
		s.GC.NumGC, s.GC.PauseTotal, s.GC.HeapAlloc,
	)
}

func codeLines(s observability.Snapshot) string {
	var b strings.Builder
	for _, c := range s.Codes {
		fmt.Fprintf(&b, "  %d: %d (avg %v, max %v)\n", c.Code, c.Count, c.Avg, c.Max)
	}
	return b.String()
}
