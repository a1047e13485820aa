package raft

import (
	"sort"
	"time"
)

// becomeLeaderLocked installs leader-only state (§3.3, §4.6): one Progress
// row per configuration member, reset to the leader's own last log index, plus a no-op
// barrier entry so commit index can advance past the election (§4.8's
// "leader completeness" rule: a leader may only expose entries from its own
// term once they are committed transitively via a later entry).
func (n *Node) becomeLeaderLocked() State {
	old := n.convertToLocked(StateLeader)
	n.follower = nil
	n.candidate = nil
	last := n.log.LastIndex()
	progress := make(map[uint64]*Progress, len(n.config.Servers))
	for _, s := range n.config.Servers {
		progress[s.ID] = NewProgress(s.ID, last)
	}
	n.leader = &LeaderState{Progress: progress}
	n.barrierFired = false

	if p, ok := progress[n.id]; ok {
		p.Mode = ProgressPipeline
	}

	barrier := &Entry{Term: n.currentTerm, Type: EntryBarrier, IsLocal: true}
	n.appendLocalLocked(barrier, requestBarrier)
	return old
}

// appendLocalLocked appends one locally-originated entry and returns the
// PendingRequest tracking it, used by Apply/Barrier/ChangeConfiguration and
// internally for the leader's initial barrier.
func (n *Node) appendLocalLocked(e *Entry, kind requestKind) *PendingRequest {
	if err := n.log.Append([]*Entry{e}); err != nil {
		return &PendingRequest{done: closedErrChan(err)}
	}
	index := n.log.LastIndex()
	pr := &PendingRequest{Index: int(index), Term: e.Term, kind: kind, done: make(chan requestResult, 1)}
	if n.leader != nil {
		n.leader.Pending = append(n.leader.Pending, pr)
		if kind == requestChange {
			n.leader.PendingChange = pr
			n.leader.ChangeIndex = index
		}
		if p, ok := n.leader.Progress[n.id]; ok {
			p.MatchIndex = index
			p.NextIndex = index + 1
		}
	}
	return pr
}

func closedErrChan(err error) chan requestResult {
	ch := make(chan requestResult, 1)
	ch <- requestResult{Err: err}
	return ch
}

// leaderTick is the per-tick leader driver (§4.6): send AppendEntries or
// InstallSnapshot to any follower whose Progress says it's due, then try to
// advance the commit index and run the apply loop.
func (n *Node) leaderTick(now time.Time) {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return
	}
	lastIndex := n.log.LastIndex()
	var targets []Server
	for _, s := range n.config.Servers {
		if s.ID == n.id {
			continue
		}
		p := n.leader.Progress[s.ID]
		if p == nil {
			p = NewProgress(s.ID, lastIndex)
			n.leader.Progress[s.ID] = p
		}
		if p.ShouldReplicate(now, lastIndex, n.cfg.HeartbeatTimeout, n.cfg.InstallSnapshotTimeout) {
			targets = append(targets, s)
		}
	}
	term := n.currentTerm
	commit := n.commitIndex
	n.mu.Unlock()

	for _, s := range targets {
		n.replicateTo(s, term, commit, now)
	}

	n.maybeAdvanceCommitIndex()
	n.applyCommitted()
	n.maybeSnapshot()
	n.maybeCompletePromotion(now)
	n.maybeCompleteTransfer(now)
}

// replicateTo sends one AppendEntries or InstallSnapshot to follower s,
// choosing the message per the follower's Progress.Mode (§3.4, §4.6).
func (n *Node) replicateTo(s Server, term, commit uint64, now time.Time) {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return
	}
	p := n.leader.Progress[s.ID]
	if p == nil {
		n.mu.Unlock()
		return
	}

	if p.Mode == ProgressSnapshot {
		p.LastSend = now
		n.mu.Unlock()
		return
	}

	firstAvailable := n.log.FirstIndex()
	if p.NextIndex < firstAvailable && n.log.SnapshotIndex() > 0 {
		snapIndex := n.log.SnapshotIndex()
		snapTerm := n.log.SnapshotTerm()
		snapConfig := n.log.SnapshotConfig()
		p.ToSnapshot(snapIndex, now)
		n.mu.Unlock()

		n.io.SnapshotGet(func(snap *Snapshot, err error) {
			if err != nil || snap == nil {
				return
			}
			req := &InstallSnapshotRequest{
				Term:     term,
				LeaderID: n.id,
				Snapshot: Snapshot{
					Metadata: SnapshotMetadata{Index: snapIndex, Term: snapTerm, Config: snapConfig},
					Data:     snap.Data,
				},
			}
			n.io.Send(s.Address, Message{Kind: MsgInstallSnapshot, InstallSnapshot: req}, func(resp Message, err error) {
				if err != nil || resp.Kind != MsgInstallSnapshotResult {
					return
				}
				n.handleInstallSnapshotResult(s.ID, term, resp.InstallResult)
			})
		})
		return
	}

	prevIndex := p.NextIndex - 1
	prevTerm := n.log.TermOf(prevIndex)
	var entries []*Entry
	maxSend := p.NextIndex
	if p.Mode == ProgressPipeline {
		entries = n.log.Slice(p.NextIndex, lastIndexCap(n.log.LastIndex(), p.NextIndex))
	} else if n.log.LastIndex() >= p.NextIndex {
		entries = n.log.Slice(p.NextIndex, p.NextIndex+1)
	}
	p.InFlight += len(entries)
	p.LastSend = now
	_ = maxSend
	n.mu.Unlock()

	req := &AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: commit,
	}
	n.io.Send(s.Address, Message{Kind: MsgAppendEntries, AppendEntries: req}, func(resp Message, err error) {
		if err != nil || resp.Kind != MsgAppendEntriesResult {
			return
		}
		n.handleAppendEntriesResult(s.ID, term, resp.AppendResult)
	})
}

// lastIndexCap bounds one pipeline send at a reasonable batch size instead
// of always sending the entire remaining tail in one message.
func lastIndexCap(lastIndex, from uint64) uint64 {
	const maxBatch = 64
	to := from + maxBatch
	if to > lastIndex+1 {
		to = lastIndex + 1
	}
	return to
}

// handleAppendEntries is the follower side of replication (§4.6): term
// check, log-matching check at PrevLogIndex/PrevLogTerm, conflict
// resolution via Truncate, append, and commit-index advancement.
func (n *Node) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	if req == nil {
		return &AppendEntriesResponse{}
	}
	n.mu.Lock()

	if req.Term < n.currentTerm {
		term := n.currentTerm
		n.mu.Unlock()
		return &AppendEntriesResponse{Term: term, Rejected: req.PrevLogIndex}
	}

	stepDownOld, didStepDown := State(0), false
	if req.Term > n.currentTerm || n.state != StateFollower {
		didStepDown = true
		stepDownOld = n.convertToFollowerLocked(req.Term, req.LeaderID, "")
	} else {
		n.follower.CurrentLeaderID = req.LeaderID
		n.resetElectionTimerLocked()
	}

	if req.PrevLogIndex > 0 {
		myTerm := n.log.TermOf(req.PrevLogIndex)
		if myTerm != req.PrevLogTerm {
			term := n.currentTerm
			lastIndex := n.log.LastIndex()
			n.mu.Unlock()
			if didStepDown {
				n.fireStateChange(stepDownOld, StateFollower)
			}
			return &AppendEntriesResponse{Term: term, Rejected: req.PrevLogIndex, LastLogIndex: lastIndex}
		}
	}

	// Find the first index at which the incoming entries diverge from the
	// local log, truncating only from that point per §4.6's "retain a
	// matching prefix" rule.
	conflictAt := uint64(0)
	next := req.PrevLogIndex + 1
	var toAppend []*Entry
	for i, e := range req.Entries {
		idx := next + uint64(i)
		if existing, ok := n.log.Get(idx); ok {
			if existing.Term == e.Term {
				continue
			}
			conflictAt = idx
			break
		}
		conflictAt = idx
		break
	}
	if conflictAt != 0 {
		if err := n.log.Truncate(conflictAt); err != nil {
			term := n.currentTerm
			n.mu.Unlock()
			if didStepDown {
				n.fireStateChange(stepDownOld, StateFollower)
			}
			return &AppendEntriesResponse{Term: term, Rejected: req.PrevLogIndex}
		}
		for i, e := range req.Entries {
			if next+uint64(i) >= conflictAt {
				toAppend = append(toAppend, e)
			}
		}
	}

	if len(toAppend) > 0 {
		for _, e := range toAppend {
			e.IsLocal = false
		}
		n.log.Append(toAppend)
	}

	if req.LeaderCommit > n.commitIndex {
		last := n.log.LastIndex()
		if req.LeaderCommit < last {
			n.commitIndex = req.LeaderCommit
		} else {
			n.commitIndex = last
		}
	}
	term := n.currentTerm
	lastIndex := n.log.LastIndex()
	n.mu.Unlock()

	if didStepDown {
		n.fireStateChange(stepDownOld, StateFollower)
	}
	n.applyCommitted()
	return &AppendEntriesResponse{Term: term, LastLogIndex: lastIndex}
}

// handleAppendEntriesResult updates the sender's Progress and tries to
// advance the commit index (§3.4, §4.6).
func (n *Node) handleAppendEntriesResult(from uint64, sentTerm uint64, resp *AppendEntriesResponse) {
	if resp == nil {
		return
	}
	n.mu.Lock()
	if resp.Term > n.currentTerm {
		old := n.convertToFollowerLocked(resp.Term, 0, "")
		n.mu.Unlock()
		n.fireStateChange(old, StateFollower)
		return
	}
	if n.state != StateLeader || n.leader == nil || sentTerm != n.currentTerm {
		n.mu.Unlock()
		return
	}
	p := n.leader.Progress[from]
	if p == nil {
		n.mu.Unlock()
		return
	}
	if resp.Rejected != 0 {
		p.MaybeDecrement(resp.Rejected, n.log.LastIndex())
	} else {
		p.MaybeUpdate(resp.LastLogIndex)
	}
	n.mu.Unlock()

	n.maybeAdvanceCommitIndex()
	n.applyCommitted()
}

func (n *Node) handleInstallSnapshotResult(from uint64, sentTerm uint64, resp *InstallSnapshotResponse) {
	if resp == nil {
		return
	}
	n.mu.Lock()
	if resp.Term > n.currentTerm {
		old := n.convertToFollowerLocked(resp.Term, 0, "")
		n.mu.Unlock()
		n.fireStateChange(old, StateFollower)
		return
	}
	if n.state != StateLeader || n.leader == nil || sentTerm != n.currentTerm {
		n.mu.Unlock()
		return
	}
	p := n.leader.Progress[from]
	if p == nil {
		n.mu.Unlock()
		return
	}
	if resp.Rejected {
		p.SnapshotTimeout()
	} else {
		p.SnapshotDone()
	}
	n.mu.Unlock()
}

// maybeAdvanceCommitIndex implements the majority-match-index rule (§4.6):
// commit index advances to the highest N such that a majority of voters
// have MatchIndex >= N and the entry at N belongs to the current term
// (Raft's "leader cannot directly commit entries from prior terms" rule).
func (n *Node) maybeAdvanceCommitIndex() {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return
	}
	voters := n.config.Voters()
	matches := make([]uint64, 0, len(voters))
	for _, s := range voters {
		if s.ID == n.id {
			matches = append(matches, n.log.LastIndex())
			continue
		}
		if p := n.leader.Progress[s.ID]; p != nil {
			matches = append(matches, p.MatchIndex)
		} else {
			matches = append(matches, 0)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	majorityIdx := n.config.Majority() - 1
	if majorityIdx < 0 || majorityIdx >= len(matches) {
		n.mu.Unlock()
		return
	}
	candidate := matches[majorityIdx]
	if candidate > n.commitIndex && n.log.TermOf(candidate) == n.currentTerm {
		n.commitIndex = candidate
	}
	n.mu.Unlock()
}

// applyCommitted drives entries from lastApplied+1 through commitIndex
// through the FSM (§2's apply loop), completing any PendingRequest for
// locally-originated entries and firing the initial-barrier callback once
// the leader's no-op entry commits.
func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		idx := n.lastApplied + 1
		e, ok := n.log.Get(idx)
		if !ok {
			n.mu.Unlock()
			return
		}
		e.SetState(EntryCommitted)
		n.mu.Unlock()

		var result interface{}
		var err error
		stepDown, stepDownOld := false, State(0)
		switch e.Type {
		case EntryCommand:
			result, err = n.fsm.Apply(e)
		case EntryChange:
			if conf, derr := Decode(e.Data); derr == nil {
				n.mu.Lock()
				n.config = conf
				if n.state == StateLeader && !conf.IsVoter(n.id) {
					stepDown = true
					stepDownOld = n.convertToFollowerLocked(n.currentTerm, 0, "")
				}
				n.mu.Unlock()
			} else {
				err = derr
			}
		case EntryBarrier:
			// no-op: completes any pending barrier request below.
		}

		n.mu.Lock()
		e.SetState(EntryApplied)
		n.lastApplied = idx
		n.completePendingLocked(idx, result, err)
		n.mu.Unlock()

		if stepDown {
			n.fireStateChange(stepDownOld, StateFollower)
		}

		if e.Type == EntryBarrier {
			n.fireInitialBarrier()
		}
	}
}

// completePendingLocked resolves and removes the PendingRequest attached to
// the just-applied index, if this node is (or recently was) leader for it.
func (n *Node) completePendingLocked(index uint64, result interface{}, err error) {
	if n.leader == nil {
		return
	}
	kept := n.leader.Pending[:0]
	for _, pr := range n.leader.Pending {
		if uint64(pr.Index) == index {
			pr.done <- requestResult{Result: result, Err: err}
			close(pr.done)
			if n.leader.PendingChange == pr {
				n.leader.PendingChange = nil
			}
			continue
		}
		kept = append(kept, pr)
	}
	n.leader.Pending = kept
}
