package raft

// startElection begins a new round (§4.5): pre-vote (no term bump, no
// persisted vote-for-self) when preVote is true, otherwise a real election
// that advances the term and votes for itself. Config.PreVote is not
// consulted: Tick starts a real election when a follower's timer expires,
// so a pre-vote round only runs when a caller passes preVote = true.
func (n *Node) startElection(preVote bool) {
	n.mu.Lock()
	if n.state != StateFollower && n.state != StateCandidate {
		n.mu.Unlock()
		return
	}
	self, ok := n.config.Get(n.id)
	if !ok || self.Role != RoleVoter {
		n.mu.Unlock()
		return
	}
	voters := n.config.Voters()
	if len(voters) == 1 && voters[0].ID == n.id {
		// Single-voter fast path (§8 scenario 1): win immediately without
		// sending any RPC.
		n.becomeCandidateLocked(preVote)
		n.recordVoteLocked(n.id, true)
		if n.tallyLocked() {
			old := n.becomeLeaderLocked()
			n.mu.Unlock()
			n.fireStateChange(old, StateLeader)
			return
		}
		n.mu.Unlock()
		return
	}

	old := n.becomeCandidateLocked(preVote)
	req := &RequestVoteRequest{
		Term:         n.currentTerm,
		CandidateID:  n.id,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.TermOf(n.log.LastIndex()),
		PreVote:      preVote,
	}
	n.recordVoteLocked(n.id, true)
	servers := append([]Server{}, voters...)
	n.mu.Unlock()

	if old != StateCandidate {
		n.fireStateChange(old, StateCandidate)
	}

	for _, s := range servers {
		if s.ID == n.id {
			continue
		}
		s := s
		n.io.Send(s.Address, Message{Kind: MsgRequestVote, RequestVote: req}, func(resp Message, err error) {
			if err != nil || resp.Kind != MsgRequestVoteResult {
				return
			}
			n.handleRequestVoteResult(s.ID, req, resp.RequestVoteResult)
		})
	}
}

// becomeCandidateLocked enters the candidate state (or refreshes the ballot
// for a fresh round of the same election attempt), bumping the term only
// for a real (non-pre-vote) election per §4.5.
func (n *Node) becomeCandidateLocked(preVote bool) State {
	old := n.convertToLocked(StateCandidate)
	if !preVote {
		n.currentTerm++
		n.votedFor = n.id
		n.io.SetTerm(n.currentTerm)
		n.io.SetVote(n.id)
	}
	n.follower = nil
	n.leader = nil
	n.candidate = &CandidateState{
		Votes:   make([]bool, len(n.config.Voters())),
		PreVote: preVote,
	}
	n.resetElectionTimerLocked()
	return old
}

func (n *Node) voterPosition(id uint64) int {
	i := 0
	for _, s := range n.config.Voters() {
		if s.ID == id {
			return i
		}
		i++
	}
	return -1
}

func (n *Node) recordVoteLocked(id uint64, granted bool) {
	if n.candidate == nil || !granted {
		return
	}
	pos := n.voterPosition(id)
	if pos >= 0 && pos < len(n.candidate.Votes) {
		n.candidate.Votes[pos] = true
	}
}

func (n *Node) tallyLocked() bool {
	if n.candidate == nil {
		return false
	}
	count := 0
	for _, v := range n.candidate.Votes {
		if v {
			count++
		}
	}
	return count >= n.config.Majority()
}

// handleRequestVote implements the voting rule (§4.5): grant only when the
// term is acceptable and the candidate's log is at least as up to date.
// A PreVote grant never perturbs currentTerm or votedFor.
func (n *Node) handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	if req == nil {
		return &RequestVoteResponse{}
	}
	n.mu.Lock()

	if req.Term < n.currentTerm {
		term := n.currentTerm
		if req.PreVote {
			term = req.Term
		}
		n.mu.Unlock()
		return &RequestVoteResponse{Term: term, VoteGranted: false, PreVote: req.PreVote}
	}

	upToDate := n.logUpToDateLocked(req.LastLogIndex, req.LastLogTerm)

	if req.PreVote {
		granted := upToDate && !n.recentLeaderContactLocked()
		n.mu.Unlock()
		return &RequestVoteResponse{Term: req.Term, VoteGranted: granted, PreVote: true}
	}

	var stepDown State
	stepDownOld := false
	if req.Term > n.currentTerm {
		stepDownOld = true
		stepDown = n.convertToFollowerLocked(req.Term, 0, "")
	}

	granted := false
	if (n.votedFor == 0 || n.votedFor == req.CandidateID) && upToDate {
		n.votedFor = req.CandidateID
		n.io.SetVote(req.CandidateID)
		granted = true
		n.resetElectionTimerLocked()
	}
	term := n.currentTerm
	n.mu.Unlock()

	if stepDownOld {
		n.fireStateChange(stepDown, StateFollower)
	}
	return &RequestVoteResponse{Term: term, VoteGranted: granted}
}

// logUpToDateLocked implements the §4.5 comparison: higher last term wins,
// ties broken by length.
func (n *Node) logUpToDateLocked(lastIndex, lastTerm uint64) bool {
	myIndex := n.log.LastIndex()
	myTerm := n.log.TermOf(myIndex)
	if lastTerm != myTerm {
		return lastTerm > myTerm
	}
	return lastIndex >= myIndex
}

// recentLeaderContactLocked reports whether this follower has heard from a
// leader recently enough that a pre-vote should be refused (disruptive
// server protection, §4.5). The request's DisruptLeader flag is not
// consulted.
func (n *Node) recentLeaderContactLocked() bool {
	if n.state != StateFollower || n.follower == nil {
		return false
	}
	return n.io.Time().Sub(n.follower.ElectionTimerStart) < n.cfg.ElectionTimeout
}

// handleRequestVoteResult processes one peer's reply to our RequestVote,
// possibly completing the election.
func (n *Node) handleRequestVoteResult(from uint64, req *RequestVoteRequest, resp *RequestVoteResponse) {
	if resp == nil {
		return
	}
	n.mu.Lock()

	if resp.Term > n.currentTerm && !resp.PreVote {
		old := n.convertToFollowerLocked(resp.Term, 0, "")
		n.mu.Unlock()
		n.fireStateChange(old, StateFollower)
		return
	}

	if n.state != StateCandidate || n.candidate == nil || n.candidate.PreVote != resp.PreVote {
		n.mu.Unlock()
		return
	}
	if req.Term != n.currentTerm && !resp.PreVote {
		n.mu.Unlock()
		return
	}

	n.recordVoteLocked(from, resp.VoteGranted)
	if !n.tallyLocked() {
		n.mu.Unlock()
		return
	}

	if n.candidate.PreVote {
		n.mu.Unlock()
		n.startElection(false)
		return
	}

	old := n.becomeLeaderLocked()
	n.mu.Unlock()
	n.fireStateChange(old, StateLeader)
}
