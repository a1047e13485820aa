package raft

import "context"

// Apply submits a command for replication (§4.8): it is rejected
// immediately with ErrNotLeader if this node isn't leader, otherwise it
// appends a local entry and blocks until the context is done or the entry
// is applied (or the leader steps down first, in which case
// convertToFollowerLocked fails it with ErrLeadershipLost).
func (n *Node) Apply(ctx context.Context, data []byte) (interface{}, error) {
	return n.submit(ctx, &Entry{Type: EntryCommand, Data: data, IsLocal: true}, requestApply)
}

// Barrier submits a no-op entry and waits for it to commit and apply,
// guaranteeing every entry appended before it has also been applied locally
// (§4.8's read consistency primitive).
func (n *Node) Barrier(ctx context.Context) error {
	_, err := n.submit(ctx, &Entry{Type: EntryBarrier, IsLocal: true}, requestBarrier)
	return err
}

func (n *Node) submit(ctx context.Context, e *Entry, kind requestKind) (interface{}, error) {
	n.mu.Lock()
	if n.state != StateLeader || n.leader == nil {
		n.mu.Unlock()
		return nil, ErrNotLeader
	}
	e.Term = n.currentTerm
	pr := n.appendLocalLocked(e, kind)
	n.mu.Unlock()

	select {
	case res := <-pr.done:
		return res.Result, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
