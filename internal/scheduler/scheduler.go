// Package scheduler is the assignment policy: which pending queue entry
// should be offered to which kernel session.
//
// Everything here is a pure read over the derived tables. The scheduler
// never commits events itself and holds no state of its own - callers take
// the returned plan and append ExecutionAssigned events; the materializer's
// accept-first rule resolves any race between concurrent claimants.
package scheduler

import (
	"sort"

	"github.com/noteflowhq/noteflow/internal/state"
)

// Assignment pairs a pending queue entry with the session that should
// take it.
type Assignment struct {
	QueueID   string
	SessionID string
}

// Next returns the single best assignment under the policy: the pending
// entry with the highest priority (FIFO among equals) that some idle,
// capability-matching session can serve. Returns false when no pending
// entry is servable.
func Next(t *state.Tables) (Assignment, bool) {
	plan := Plan(t)
	if len(plan) == 0 {
		return Assignment{}, false
	}
	return plan[0], true
}

// Plan matches pending entries to idle sessions, one entry per session.
// Entries are considered in scheduling order (priority descending, then
// request order); each takes the lowest-ID idle session that declares the
// required capability. An entry no session can serve stays pending without
// blocking lower-priority entries that are servable.
func Plan(t *state.Tables) []Assignment {
	idle := idleSessions(t)
	if len(idle) == 0 {
		return nil
	}

	var plan []Assignment
	for _, entry := range t.PendingQueue() {
		for i, s := range idle {
			if !s.CanExecute(entry.CellType) {
				continue
			}
			plan = append(plan, Assignment{QueueID: entry.QueueID, SessionID: s.SessionID})
			idle = append(idle[:i], idle[i+1:]...)
			break
		}
		if len(idle) == 0 {
			break
		}
	}
	return plan
}

// Orphaned returns in-flight entries held by sessions that are gone:
// terminated, timed out, or never seen. These entries stay unschedulable
// until an explicit ExecutionCancelled event returns them to a requestable
// state - stale assignments are never silently resurrected.
func Orphaned(t *state.Tables) []*state.QueueEntry {
	var orphans []*state.QueueEntry
	for _, e := range t.Queue {
		if e.Status != state.QueueAssigned && e.Status != state.QueueRunning {
			continue
		}
		s, ok := t.Sessions[e.AssignedSession]
		if !ok || !s.Active {
			orphans = append(orphans, e)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].RequestedAt < orphans[j].RequestedAt
	})
	return orphans
}

// idleSessions returns active, ready sessions with no in-flight work,
// ordered by session ID so the plan is deterministic across replicas.
func idleSessions(t *state.Tables) []*state.KernelSession {
	busy := make(map[string]bool)
	for _, e := range t.Queue {
		if e.Status == state.QueueAssigned || e.Status == state.QueueRunning {
			busy[e.AssignedSession] = true
		}
	}

	var idle []*state.KernelSession
	for _, s := range t.ActiveSessions() {
		if s.Status == state.SessionReady && !busy[s.SessionID] {
			idle = append(idle, s)
		}
	}
	return idle
}
