package raft

import (
	"context"
	"time"
)

// ChangeConfiguration submits a single-entry configuration change (§4.7):
// only one may be outstanding at a time, enforced by ErrCantChange, and it
// is not applied to n.config until it commits (so an aborted change leaves
// the prior membership in force).
func (n *Node) ChangeConfiguration(ctx context.Context, next Configuration) error {
	if err := next.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return ErrNotLeader
	}
	if n.leader.PendingChange != nil {
		n.mu.Unlock()
		return ErrCantChange
	}
	data := Encode(next)
	n.mu.Unlock()

	_, err := n.submit(ctx, &Entry{Type: EntryChange, Data: data, IsLocal: true}, requestChange)
	return err
}

// AddServer appends a new spare member through a configuration change, the
// first step of §4.7's promotion pipeline. It does not start catch-up
// tracking; a later Promote call does that and raises the spare straight to
// voter, with no standby step.
func (n *Node) AddServer(ctx context.Context, id uint64, address string) error {
	cur := n.Configuration()
	if _, ok := cur.Get(id); ok {
		return ErrDuplicateID
	}
	cur.Servers = append(cur.Servers, Server{ID: id, Address: address, Role: RoleSpare})
	return n.ChangeConfiguration(ctx, cur)
}

// Promote starts a catch-up round for id and, once caught up within
// MaxCatchUpRounds, submits a configuration change raising its role to
// RoleVoter (§4.7's staged promotion).
func (n *Node) Promote(ctx context.Context, id uint64) error {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return ErrNotLeader
	}
	if n.leader.Promotion != nil {
		n.mu.Unlock()
		return ErrBusy
	}
	if _, ok := n.config.Get(id); !ok {
		n.mu.Unlock()
		return newErr(CodeNotFound, "raft: unknown server id")
	}
	n.leader.Promotion = &PromotionRound{
		PromoteeID: id,
		Number:     1,
		Index:      n.log.LastIndex(),
		StartedAt:  n.io.Time(),
		RoundStart: n.io.Time(),
	}
	n.mu.Unlock()
	return nil
}

// maybeCompletePromotion advances or finishes the in-flight promotion round
// (§4.7): a round succeeds once the promotee's MatchIndex has caught up to
// the round's starting index within MaxCatchUpRoundDuration; otherwise a
// new round begins, up to MaxCatchUpRounds.
func (n *Node) maybeCompletePromotion(now time.Time) {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil || n.leader.Promotion == nil {
		n.mu.Unlock()
		return
	}
	round := n.leader.Promotion
	p := n.leader.Progress[round.PromoteeID]
	if p == nil {
		n.leader.Promotion = nil
		n.mu.Unlock()
		return
	}
	caughtUp := p.MatchIndex >= round.Index
	elapsed := now.Sub(round.RoundStart)

	if caughtUp {
		next := n.config.Clone()
		idx := next.Index(round.PromoteeID)
		if idx < 0 {
			n.leader.Promotion = nil
			n.mu.Unlock()
			return
		}
		next.Servers[idx].Role = RoleVoter
		n.leader.Promotion = nil
		n.mu.Unlock()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.MaxCatchUpRoundDuration)
			defer cancel()
			_ = n.ChangeConfiguration(ctx, next)
		}()
		return
	}

	if elapsed >= n.cfg.MaxCatchUpRoundDuration {
		if round.Number >= n.cfg.MaxCatchUpRounds {
			n.leader.Promotion = nil
			n.mu.Unlock()
			return
		}
		round.Number++
		round.Index = n.log.LastIndex()
		round.RoundStart = now
	}
	n.mu.Unlock()
}

// TransferLeadership begins a leadership transfer to target (§4.7): the
// leader waits for target's log to match its own, then sends TimeoutNow.
// New writes are still accepted while the transfer is pending.
func (n *Node) TransferLeadership(ctx context.Context, target uint64) error {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return ErrNotLeader
	}
	if n.leader.Transfer != nil {
		n.mu.Unlock()
		return ErrBusy
	}
	if _, ok := n.config.Get(target); !ok {
		n.mu.Unlock()
		return newErr(CodeNotFound, "raft: unknown server id")
	}
	done := make(chan error, 1)
	n.leader.Transfer = &TransferRequest{TargetID: target, StartedAt: n.io.Time(), Done: done}
	n.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maybeCompleteTransfer sends TimeoutNow once the target has caught up, and
// times the whole transfer out after ElectionTimeout*2 (§4.7).
func (n *Node) maybeCompleteTransfer(now time.Time) {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil || n.leader.Transfer == nil {
		n.mu.Unlock()
		return
	}
	tr := n.leader.Transfer
	if now.Sub(tr.StartedAt) > n.cfg.ElectionTimeout*2 {
		n.leader.Transfer = nil
		n.mu.Unlock()
		select {
		case tr.Done <- newErr(CodeBusy, "raft: leadership transfer timed out"):
		default:
		}
		return
	}
	p := n.leader.Progress[tr.TargetID]
	if p == nil || p.MatchIndex < n.log.LastIndex() {
		n.mu.Unlock()
		return
	}
	target, ok := n.config.Get(tr.TargetID)
	n.leader.Transfer = nil
	term := n.currentTerm
	n.mu.Unlock()

	if !ok {
		select {
		case tr.Done <- newErr(CodeNotFound, "raft: transfer target left the configuration"):
		default:
		}
		return
	}
	n.io.Send(target.Address, Message{Kind: MsgTimeoutNow, TimeoutNow: &TimeoutNowRequest{Term: term, LeaderID: n.id}}, func(_ Message, err error) {
		select {
		case tr.Done <- err:
		default:
		}
	})
}

// handleTimeoutNow implements the transfer target's side (§4.7): start a
// real election immediately, bypassing the usual randomized timeout.
func (n *Node) handleTimeoutNow(req *TimeoutNowRequest) {
	if req == nil {
		return
	}
	n.mu.Lock()
	if n.state != StateFollower {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.startElection(false)
}
