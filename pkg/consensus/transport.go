package consensus

import (
	"io"
	"net"
	"time"

	"github.com/cuemby/meridian/pkg/types"
	"github.com/hashicorp/raft"
)

// NewInmemTransport wraps raft.NewInmemTransport for single-process
// deployments and tests: every peer lives in this binary's address
// space, so there is no real network to cross. The returned address
// doubles as the peer's ServerID, matching peerAddress's fallback for
// peers with no Addr/Port.
func NewInmemTransport(id types.NodeID) (raft.ServerAddress, *raft.InmemTransport) {
	return raft.NewInmemTransport(raft.ServerAddress(id))
}

// ConnectInmem wires a bidirectional link between two in-memory
// transports, the equivalent of two real nodes being able to reach
// each other over the network. Tests simulate a partition by calling
// Disconnect/DisconnectAll on one side instead of tearing this down.
func ConnectInmem(aAddr raft.ServerAddress, a *raft.InmemTransport, bAddr raft.ServerAddress, b *raft.InmemTransport) {
	a.Connect(bAddr, b)
	b.Connect(aAddr, a)
}

// NewTCPTransport builds raft's own NetworkTransport bound to bindAddr
// and advertising advertiseAddr, the same construction poc/raft's main
// and pkg/manager.Manager.Bootstrap use for a networked cluster. A
// deployment with peers outside this process uses this instead of the
// in-memory transport.
func NewTCPTransport(bindAddr, advertiseAddr string, logOutput io.Writer) (*raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", advertiseAddr)
	if err != nil {
		return nil, err
	}
	return raft.NewTCPTransport(bindAddr, addr, 3, 10*time.Second, logOutput)
}
