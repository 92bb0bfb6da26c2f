package agent

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bbiangul/ragcore/toolloop"
)

// Crew runs a set of member Definitions either Sequential (each member
// sees every prior member's output concatenated into crew_previous_
// outputs) or Hierarchical (a coordinator member dispatches to the rest,
// one LLM call per dispatch decision — modeled here as the first member
// acting as coordinator, consistent with spec.md §4.11's "coordinator
// dispatches").
type Crew struct {
	runtime *Runtime
	mode    RunMode
	members []Definition
}

// NewCrew returns a Crew executing members via runtime in mode.
func NewCrew(runtime *Runtime, mode RunMode, members []Definition) *Crew {
	return &Crew{runtime: runtime, mode: mode, members: members}
}

// Run executes the crew's members and returns a per-member result list
// plus aggregate timing.
func (c *Crew) Run(ctx context.Context, query string, cancel *atomic.Bool, emitter toolloop.Emitter) (CrewResult, error) {
	start := time.Now()

	var results []Result
	switch c.mode {
	case ModeHierarchical:
		results = c.runHierarchical(ctx, query, cancel, emitter)
	default:
		results = c.runSequential(ctx, query, cancel, emitter)
	}

	return CrewResult{MemberResults: results, TotalDuration: time.Since(start)}, nil
}

func (c *Crew) runSequential(ctx context.Context, query string, cancel *atomic.Bool, emitter toolloop.Emitter) []Result {
	var results []Result
	var previousOutputs []string

	for _, member := range c.members {
		if cancel != nil && cancel.Load() {
			results = append(results, Result{Success: false, Error: "Cancelled"})
			break
		}
		res, _ := c.runtime.Run(ctx, member, query, strings.Join(previousOutputs, "\n\n"), cancel, emitter)
		results = append(results, res)
		if res.Content != "" {
			previousOutputs = append(previousOutputs, member.Name+": "+res.Content)
		}
	}
	return results
}

// runHierarchical treats the first member as coordinator: it runs first
// with the raw query, and every subsequent member receives the
// coordinator's output as its crew_previous_outputs (a dispatch decision)
// rather than the accumulating chain a Sequential run builds.
func (c *Crew) runHierarchical(ctx context.Context, query string, cancel *atomic.Bool, emitter toolloop.Emitter) []Result {
	if len(c.members) == 0 {
		return nil
	}

	coordinator := c.members[0]
	coordResult, _ := c.runtime.Run(ctx, coordinator, query, "", cancel, emitter)
	results := []Result{coordResult}

	for _, member := range c.members[1:] {
		if cancel != nil && cancel.Load() {
			results = append(results, Result{Success: false, Error: "Cancelled"})
			break
		}
		res, _ := c.runtime.Run(ctx, member, query, coordinator.Name+" dispatched: "+coordResult.Content, cancel, emitter)
		results = append(results, res)
	}
	return results
}
