package raft

import "time"

// ProgressMode is the leader's view of how it is replicating to one
// follower (§3.4, glossary).
type ProgressMode uint8

const (
	ProgressProbe ProgressMode = iota
	ProgressPipeline
	ProgressSnapshot
)

func (m ProgressMode) String() string {
	switch m {
	case ProgressProbe:
		return "probe"
	case ProgressPipeline:
		return "pipeline"
	case ProgressSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Progress is the leader-only per-follower replication state (§3.4).
type Progress struct {
	ServerID        uint64
	NextIndex       uint64
	MatchIndex      uint64
	SnapshotIndex   uint64
	LastSend        time.Time
	SnapshotSend    time.Time
	RecentRecv      bool
	Mode            ProgressMode
	InFlight        int // entries optimistically sent but not yet acknowledged, pipeline mode
	Features        uint64
}

// NewProgress initializes a follower's tracking row in probe mode with
// next_index = lastLogIndex+1 (§3.4 "Initial mode").
func NewProgress(id uint64, lastLogIndex uint64) *Progress {
	return &Progress{
		ServerID:  id,
		Mode:      ProgressProbe,
		NextIndex: lastLogIndex + 1,
		MatchIndex: 0,
	}
}

// MaybeUpdate advances match/next index on a successful append and flips
// probe to pipeline (§3.4).
func (p *Progress) MaybeUpdate(lastLogIndex uint64) bool {
	updated := false
	if p.MatchIndex < lastLogIndex {
		p.MatchIndex = lastLogIndex
		updated = true
	}
	if p.NextIndex < lastLogIndex+1 {
		p.NextIndex = lastLogIndex + 1
	}
	p.InFlight = 0
	if p.Mode == ProgressProbe {
		p.Mode = ProgressPipeline
	}
	p.RecentRecv = true
	return updated
}

// MaybeDecrement steps next_index back on a rejected append, capped at
// match_index+1, and falls back to probe mode (§3.4).
func (p *Progress) MaybeDecrement(rejectedIndex, lastLogIndex uint64) bool {
	if p.Mode == ProgressPipeline {
		// An out-of-order rejection for an index we have already moved
		// past is stale; ignore it.
		if rejectedIndex < p.MatchIndex {
			return false
		}
		p.NextIndex = p.MatchIndex + 1
		p.Mode = ProgressProbe
		return true
	}
	if p.NextIndex == 0 {
		return false
	}
	if lastLogIndex+1 < p.NextIndex {
		p.NextIndex = lastLogIndex + 1
	} else if p.NextIndex > 1 {
		p.NextIndex--
	}
	if p.NextIndex < p.MatchIndex+1 {
		p.NextIndex = p.MatchIndex + 1
	}
	return true
}

// ToSnapshot moves a probing follower into snapshot mode. It does not check
// RecentRecv; replicateTo calls it whenever NextIndex precedes the first
// retained log entry.
func (p *Progress) ToSnapshot(snapshotIndex uint64, now time.Time) {
	p.Mode = ProgressSnapshot
	p.SnapshotIndex = snapshotIndex
	p.SnapshotSend = now
}

// SnapshotDone transitions snapshot -> probe with
// next_index = max(match_index+1, snapshot_index+1), so the next probe's
// prev index is the snapshot boundary the follower now holds.
func (p *Progress) SnapshotDone() {
	next := p.MatchIndex + 1
	if p.SnapshotIndex+1 > next {
		next = p.SnapshotIndex + 1
	}
	p.NextIndex = next
	p.Mode = ProgressProbe
	p.SnapshotIndex = 0
}

// SnapshotTimeout aborts an in-flight InstallSnapshot back to probe (§3.4,
// §4.6 "snapshot mode: abort-and-reprobe").
func (p *Progress) SnapshotTimeout() {
	p.Mode = ProgressProbe
	p.SnapshotIndex = 0
}

// ShouldReplicate decides whether the leader should emit a message to this
// follower right now, per §4.6.
func (p *Progress) ShouldReplicate(now time.Time, lastLogIndex uint64, heartbeatInterval, installSnapshotTimeout time.Duration) bool {
	switch p.Mode {
	case ProgressSnapshot:
		if now.Sub(p.SnapshotSend) >= installSnapshotTimeout {
			p.SnapshotTimeout()
			return true
		}
		return now.Sub(p.LastSend) >= heartbeatInterval
	case ProgressProbe:
		return now.Sub(p.LastSend) >= heartbeatInterval
	case ProgressPipeline:
		upToDate := p.MatchIndex >= lastLogIndex
		return !upToDate || now.Sub(p.LastSend) >= heartbeatInterval
	default:
		return false
	}
}
