package raft

// maybeSnapshot implements the threshold/trailing snapshot policy (§4.6):
// once at least SnapshotThreshold entries have been applied past the last
// snapshot, take a new one and compact the log, retaining SnapshotTrailing
// entries so slow-but-connected followers can still be caught up without a
// full transfer.
func (n *Node) maybeSnapshot() {
	n.mu.Lock()
	if n.snapshotTaking {
		n.mu.Unlock()
		return
	}
	applied := n.lastApplied
	snapIndex := n.log.SnapshotIndex()
	if applied <= snapIndex || applied-snapIndex < n.cfg.SnapshotThreshold {
		n.mu.Unlock()
		return
	}
	term := n.log.TermOf(applied)
	config := n.config.Clone()
	n.snapshotTaking = true
	n.mu.Unlock()

	n.io.AsyncWork(func() error {
		data, err := n.fsm.Snapshot()
		if err != nil {
			return err
		}
		snap := Snapshot{Metadata: SnapshotMetadata{Index: applied, Term: term, Config: config}, Data: data}
		done := make(chan error, 1)
		n.io.SnapshotPut(n.cfg.SnapshotTrailing, snap, func(err error) { done <- err })
		return <-done
	}, func(err error) {
		n.mu.Lock()
		n.snapshotTaking = false
		if err == nil {
			n.log.Compact(applied, term, config, n.cfg.SnapshotTrailing)
		}
		n.mu.Unlock()
	})
}

// handleInstallSnapshot is the follower side (§4.6): replace local state
// wholesale with the received snapshot, then restore the FSM from it. Two
// guards run before any of that happens: a snapshot already being taken or
// installed makes this one busy-rejected rather than overlapping it, and an
// offered snapshot no newer than our own applied state is acknowledged
// without being installed, since there's nothing to gain by moving
// commitIndex/lastApplied backward (they never decrease).
func (n *Node) handleInstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	if req == nil {
		return &InstallSnapshotResponse{}
	}
	n.mu.Lock()
	if req.Term < n.currentTerm {
		term := n.currentTerm
		n.mu.Unlock()
		return &InstallSnapshotResponse{Term: term, Rejected: true}
	}

	if n.snapshotTaking || n.snapshotInstalling {
		term := n.currentTerm
		n.mu.Unlock()
		return &InstallSnapshotResponse{Term: term, Rejected: true}
	}

	meta := req.Snapshot.Metadata
	if meta.Index <= n.lastApplied {
		term := n.currentTerm
		n.mu.Unlock()
		return &InstallSnapshotResponse{Term: term}
	}

	didStepDown, stepDownOld := false, State(0)
	if req.Term > n.currentTerm || n.state != StateFollower {
		didStepDown = true
		stepDownOld = n.convertToFollowerLocked(req.Term, req.LeaderID, "")
	} else {
		n.follower.CurrentLeaderID = req.LeaderID
		n.resetElectionTimerLocked()
	}

	n.snapshotInstalling = true
	n.log.ReplaceWithSnapshot(meta.Index, meta.Term, meta.Config)
	n.config = meta.Config.Clone()
	n.commitIndex = meta.Index
	n.lastApplied = meta.Index
	n.lastStored = meta.Index
	data := req.Snapshot.Data
	term := n.currentTerm
	n.mu.Unlock()

	if didStepDown {
		n.fireStateChange(stepDownOld, StateFollower)
	}

	restoreErr := n.fsm.Restore(data)

	n.mu.Lock()
	n.snapshotInstalling = false
	n.mu.Unlock()

	if restoreErr != nil {
		n.logg.Error().Err(restoreErr).Msg("fsm restore from snapshot failed")
		return &InstallSnapshotResponse{Term: term, Rejected: true}
	}
	return &InstallSnapshotResponse{Term: term}
}
