// Package raftfsm defines the contract between a Raft Worker and the
// user-supplied state machine it drives. The worker depends only on this
// interface, never a concrete implementation.
package raftfsm

import "go.etcd.io/etcd/raft/v3/raftpb"

// AppliedEntry is one committed entry delivered to FSM.Apply, paired with
// the opaque context that was proposed alongside it.
type AppliedEntry struct {
	Entry   raftpb.Entry
	Context []byte
}

// FSM is the state machine a Raft Worker drives. Implementations own
// persisting their own side effects and the applied index atomically with
// them: the worker never tracks applied index on the FSM's behalf.
type FSM interface {
	// Apply delivers committed entries in strictly increasing index order.
	// isLeader tells the FSM whether this node was leader when the batch
	// committed, useful for deciding whether to trigger client-visible
	// side effects versus purely replicate state.
	Apply(group uint64, isLeader bool, entries []AppliedEntry) error

	// PostApply is an informational hook called after Apply returns for a
	// batch, used to wake readers blocked on an index becoming visible.
	PostApply(group uint64, firstIndex, lastIndex uint64)

	// RaftAppliedIndex reports the last index this FSM has durably
	// applied, used at restart to seed the Raft library's Applied config
	// so it never redelivers already-applied entries.
	RaftAppliedIndex(group uint64) (uint64, error)

	// BuildSnapshot and InstallSnapshot are the snapshot transfer hooks.
	// The worker calls InstallSnapshot when a Ready carries a non-empty
	// snapshot and never calls BuildSnapshot; raftlog.Store.Snapshot
	// always reports that no snapshot is available.
	BuildSnapshot(group uint64, index uint64) ([]byte, error)
	InstallSnapshot(group uint64, index uint64, data []byte) error
}
