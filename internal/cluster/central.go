package cluster

import (
	"net"
	"time"

	"github.com/alvarosanz/loadit/internal/clog"
	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/wire"
)

// Central is the coordinator of spec.md §4.G: it authorizes every request
// against its SessionStore, tracks cluster membership and per-database
// content hashes in its NodeRegistry, and dispatches each op to a worker
// (or handles node-scoped ops itself) rather than touching a database
// directly.
type Central struct {
	LocalNode string
	Nodes     *NodeRegistry
	Sessions  *SessionStore
	MasterKey []byte
	TokenTTL  time.Duration
	WorkerTLS *tlsDialer
}

// tlsDialer is the subset of wire's client dial path Central needs to reach
// a worker; a named type so Central doesn't carry a raw *tls.Config import
// cycle back into wire from cluster's public surface.
type tlsDialer struct{}

func (tlsDialer) dial(addr string) (*wire.Conn, error) {
	return wire.Dial(addr, wire.ClientTLSConfig())
}

// NewCentral builds a Central for localNode, backed by nodes/sessions and
// signing tokens under masterKey with the given ttl.
func NewCentral(localNode string, nodes *NodeRegistry, sessions *SessionStore, masterKey []byte, tokenTTL time.Duration) *Central {
	return &Central{
		LocalNode: localNode,
		Nodes:     nodes,
		Sessions:  sessions,
		MasterKey: masterKey,
		TokenTTL:  tokenTTL,
		WorkerTLS: &tlsDialer{},
	}
}

// Serve accepts client connections on ln until Accept errors.
func (c *Central) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go c.handleConn(wire.NewConn(conn))
	}
}

func (c *Central) handleConn(conn *wire.Conn) {
	defer conn.Close()
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp, relay := c.handle(conn, req)
		if err := conn.WriteJSON(resp); err != nil {
			clog.Error("write central response", "error", err, "op", req.Op)
			return
		}
		if relay != nil {
			if err := relay(); err != nil {
				clog.Error("relay attachment to client", "error", err, "database", req.Database, "name", req.Name)
				return
			}
		}
	}
}

// handle authorizes one request and either handles it locally or
// dispatches it to a worker, never panicking back onto the client
// connection. Its RequestFSM records only Received -> Authorized ->
// LocalHandled, for dispatched ops as well; the Redirected, WorkerReceived,
// WorkerExecuted and Released states are not recorded. When the
// op is download_attachment, the returned relay func streams the attachment
// bytes to client once the JSON response announcing it has gone out.
func (c *Central) handle(conn *wire.Conn, req Request) (resp Response, relay func() error) {
	var sess Session
	var bytesOut int64
	fsm := NewRequestFSM()

	defer func() {
		if r := recover(); r != nil {
			resp, relay = Response{Error: loaditerr.Newf(loaditerr.KindIO, "central panic: %v", r).Error()}, nil
		}
		clog.Release(req.Database, sess.User, req.Op, 0, bytesOut, resp.Error != "")
	}()

	if err := CheckClientVersion(req.ClientVersion); err != nil {
		return Response{Error: err.Error()}, nil
	}

	sess, err := ParseToken(c.MasterKey, req.Token)
	if err != nil {
		return Response{Error: err.Error()}, nil
	}
	if err := Authorize(sess, req.Op, req.Database); err != nil {
		return Response{Error: err.Error()}, nil
	}
	if err := fsm.Transition(RequestAuthorized); err != nil {
		return Response{Error: err.Error()}, nil
	}

	switch req.Op {
	case OpSessions:
		resp = c.handleSessions(req)
	case OpAddWorker:
		c.Nodes.Seed(req.Name, req.Backup)
		c.Nodes.RegisterWorker(req.Name, req.Addr)
		resp = Response{}
	case OpRemoveWorker:
		c.Nodes.RemoveWorker(req.Name, req.Addr)
		resp = Response{}
	case OpShutdown:
		resp = Response{}
	default:
		resp, relay = c.dispatch(conn, req)
	}

	_ = fsm.Transition(RequestLocalHandled)
	if resp.Result != nil {
		bytesOut = int64(len(resp.Result.Rows)) * int64(len(resp.Result.Fields)) * 8
	}
	return resp, relay
}

func (c *Central) handleSessions(req Request) Response {
	switch {
	case req.Remove:
		if err := c.Sessions.Remove(req.TargetUser); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}
	case req.NewSession != nil:
		if err := c.Sessions.Add(*req.NewSession); err != nil {
			return Response{Error: err.Error()}
		}
		token, err := IssueToken(c.MasterKey, *req.NewSession, c.TokenTTL)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Token: token}
	case req.TargetUser != "":
		sess, ok := c.Sessions.Get(req.TargetUser)
		if !ok {
			return Response{Error: loaditerr.Newf(loaditerr.KindNotFound, "no session for user %q", req.TargetUser).Error()}
		}
		return Response{Sessions: []Session{sess}}
	default:
		return Response{Sessions: c.Sessions.List()}
	}
}

// dispatch picks a worker per DispatchPolicy and proxies req to it; it does
// not touch the request's state machine. For
// download_attachment, the worker connection is kept open and handed back as
// a relay func so the caller can stream the attachment to its own client
// once the JSON response announcing it has gone out.
func (c *Central) dispatch(client *wire.Conn, req Request) (Response, func() error) {
	nodes := c.Nodes.Snapshot()
	authoritativeHash := nodes[c.LocalNode].Databases[req.Database]

	workerAddr, err := DispatchPolicy(nodes, c.LocalNode, req.Database, authoritativeHash, req.Op)
	if err != nil {
		return Response{Error: err.Error()}, nil
	}

	dispatchNode := c.LocalNode
	if !isWrite(req.Op) {
		dispatchNode = nodeOwning(nodes, workerAddr)
	}

	c.Nodes.AdjustLoad(dispatchNode, workerAddr, 1)
	released := false
	release := func() {
		if !released {
			released = true
			c.Nodes.AdjustLoad(dispatchNode, workerAddr, -1)
		}
	}

	worker, err := c.WorkerTLS.dial(workerAddr)
	if err != nil {
		release()
		return Response{Error: loaditerr.Wrap(loaditerr.KindIO, "dial worker", err).Error()}, nil
	}

	if err := worker.WriteJSON(req); err != nil {
		release()
		worker.Close()
		return Response{Error: loaditerr.Wrap(loaditerr.KindIO, "send request to worker", err).Error()}, nil
	}
	var resp Response
	if err := worker.ReadJSON(&resp); err != nil {
		release()
		worker.Close()
		return Response{Error: loaditerr.Wrap(loaditerr.KindIO, "read response from worker", err).Error()}, nil
	}

	if req.Op != OpDownloadAttachment || resp.Error != "" || len(resp.Names) != 1 {
		release()
		worker.Close()
		return resp, nil
	}

	relay := func() error {
		defer release()
		defer worker.Close()
		size, r, err := worker.RecvBulk()
		if err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "receive attachment from worker", err)
		}
		return client.SendBulkWithAck(r, size)
	}
	return resp, relay
}

func nodeOwning(nodes map[string]Node, workerAddr string) string {
	for name, n := range nodes {
		if _, ok := n.Workers[workerAddr]; ok {
			return name
		}
	}
	return ""
}
