// Package raftnet defines the abstract transport a Raft Worker uses to
// exchange protocol messages with its peers. Concrete wire format
// (gRPC, in-process channels, whatever) lives outside this package.
package raftnet

import "go.etcd.io/etcd/raft/v3/raftpb"

// Client is a cheap-to-clone handle for sending batches of messages to one
// peer. Send is fire-and-forget: the transport retries at its own layer;
// Raft tolerates reordering and duplicates between a given (source,
// destination) pair.
type Client interface {
	Send(messages []raftpb.Message) error
}

// Network is the per-process transport a Raft Worker is parameterized by.
type Network interface {
	// TakeMessageRx hands the caller ownership of raftNode's inbound
	// message stream. It is a one-time action per raft_node per process
	// lifetime; calling it twice for the same raft_node is a programming
	// error.
	TakeMessageRx(raftNode uint64) (<-chan raftpb.Message, error)

	// Client returns a cached, cheap-to-clone sender for peer.
	Client(peer uint64) (Client, error)
}
