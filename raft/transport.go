package raft

import (
	"fmt"
	"net"
	"time"

	"github.com/kartikbazzad/hexwar/wire"
)

// TCPTransport is the default RPCClient: one short-lived TCP connection
// per RPC, framed with the wire package's binary header.
type TCPTransport struct {
	DialTimeout time.Duration
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{DialTimeout: 500 * time.Millisecond}
}

func (t *TCPTransport) call(peer string, op wire.OpCode, req, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", peer, t.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, op, req); err != nil {
		return err
	}
	hdr, err := wire.ReadHeader(conn)
	if err != nil {
		return err
	}
	if hdr.OpCode == wire.OpError {
		var errBody wire.Reply
		if err := wire.ReadBody(conn, hdr.Length, &errBody); err != nil {
			return err
		}
		return fmt.Errorf("raft transport: peer %s: %s", peer, errBody.Error)
	}
	return wire.ReadBody(conn, hdr.Length, reply)
}

func (t *TCPTransport) SendRequestVote(peer string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error) {
	var reply wire.RequestVoteReply
	err := t.call(peer, wire.OpRequestVote, args, &reply)
	return reply, err
}

func (t *TCPTransport) SendAppendEntries(peer string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error) {
	var reply wire.AppendEntriesReply
	err := t.call(peer, wire.OpAppendEntries, args, &reply)
	return reply, err
}

func (t *TCPTransport) SendProposal(peer string, args wire.ProposalRequest) (wire.ProposalReply, error) {
	var reply wire.ProposalReply
	err := t.call(peer, wire.OpProposal, args, &reply)
	return reply, err
}

// Serve accepts RPC connections on ln and dispatches them to n until ln is
// closed. It is run in its own goroutine by the owning cmd/hexwar-agent
// binary, alongside the HTTP command surface.
func Serve(ln net.Listener, n *Node) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, n)
	}
}

func serveConn(conn net.Conn, n *Node) {
	defer conn.Close()

	hdr, err := wire.ReadHeader(conn)
	if err != nil {
		return
	}

	switch hdr.OpCode {
	case wire.OpRequestVote:
		var req wire.RequestVoteRequest
		if err := wire.ReadBody(conn, hdr.Length, &req); err != nil {
			return
		}
		reply := n.HandleRequestVote(req)
		_ = wire.WriteMessage(conn, wire.OpReply, reply)
	case wire.OpAppendEntries:
		var req wire.AppendEntriesRequest
		if err := wire.ReadBody(conn, hdr.Length, &req); err != nil {
			return
		}
		reply := n.HandleAppendEntries(req)
		_ = wire.WriteMessage(conn, wire.OpReply, reply)
	case wire.OpProposal:
		var req wire.ProposalRequest
		if err := wire.ReadBody(conn, hdr.Length, &req); err != nil {
			return
		}
		reply := n.HandleProposal(req)
		_ = wire.WriteMessage(conn, wire.OpReply, reply)
	default:
		_ = wire.WriteMessage(conn, wire.OpError, wire.Reply{Error: fmt.Sprintf("unknown opcode %d", hdr.OpCode)})
	}
}
