package cluster

import (
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/alvarosanz/loadit/internal/clog"
	"github.com/alvarosanz/loadit/internal/ingest"
	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/lockreg"
	"github.com/alvarosanz/loadit/internal/queryexec"
	"github.com/alvarosanz/loadit/internal/wire"
)

// Worker executes the operations a central coordinator dispatches to it
// (spec.md §4.G): it owns one process's view of the database root, the
// per-database lock registry, and a cache of open Database handles.
type Worker struct {
	Root          string
	Locks         *lockreg.Registry
	MaxChunkBytes int64
	MaxMemory     int64

	mu  sync.Mutex
	dbs map[string]*ingest.Database
}

// NewWorker returns a Worker rooted at root, with its own lock registry
// under root's lock directory.
func NewWorker(root string, maxChunkBytes, maxMemory int64) *Worker {
	return &Worker{
		Root:          root,
		Locks:         lockreg.New(filepath.Join(root, ".locks")),
		MaxChunkBytes: maxChunkBytes,
		MaxMemory:     maxMemory,
		dbs:           make(map[string]*ingest.Database),
	}
}

// Serve accepts connections on ln until it returns an error (typically from
// ln.Close on shutdown), handling each on its own goroutine. Mirrors the
// teacher's daemon accept-loop shape: log-and-continue on a per-connection
// error, never let one bad connection bring down the listener.
func (w *Worker) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go w.handleConn(wire.NewConn(conn))
	}
}

func (w *Worker) handleConn(conn *wire.Conn) {
	defer conn.Close()
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return // peer closed the connection, or a framing error ended it
		}
		resp := w.handle(req)
		if err := conn.WriteJSON(resp); err != nil {
			clog.Error("write worker response", "error", err, "op", req.Op)
			return
		}
		if req.Op == OpDownloadAttachment && resp.Error == "" && len(resp.Names) == 1 {
			if err := w.ServeAttachment(conn, resp.Names[0]); err != nil {
				clog.Error("serve attachment", "error", err, "database", req.Database, "name", req.Name)
				return
			}
		}
	}
}

func (w *Worker) openDatabase(name string) (*ingest.Database, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if db, ok := w.dbs[name]; ok {
		return db, nil
	}
	db, err := ingest.Open(filepath.Join(w.Root, name))
	if err != nil {
		return nil, err
	}
	w.dbs[name] = db
	return db, nil
}

func (w *Worker) dropDatabase(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if db, ok := w.dbs[name]; ok {
		db.Close()
		delete(w.dbs, name)
	}
}

// handle executes one already-authorized request and never panics: every
// error path is converted to Response.Error, since a worker talks to
// central, not directly to an interactive client.
func (w *Worker) handle(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Error: loaditerr.Newf(loaditerr.KindIO, "worker panic: %v", r).Error()}
		}
	}()

	switch req.Op {
	case OpQuery:
		return w.handleQuery(req)
	case OpHeader:
		return w.handleHeader(req)
	case OpListDatabases:
		return w.handleListDatabases()
	case OpCheck:
		return w.handleCheck(req)
	case OpDownloadAttachment:
		return w.handleDownloadAttachment(req)
	case OpCreateDatabase:
		return w.handleCreateDatabase(req)
	case OpNewBatch:
		return w.handleNewBatch(req)
	case OpRestoreDatabase:
		return w.handleRestore(req)
	case OpRemoveDatabase:
		return w.handleRemoveDatabase(req)
	case OpAddAttachment:
		return w.handleAddAttachment(req)
	case OpRemoveAttachment:
		return w.handleRemoveAttachment(req)
	default:
		return Response{Error: loaditerr.Newf(loaditerr.KindProtocol, "worker does not handle op %q", req.Op).Error()}
	}
}

func (w *Worker) handleQuery(req Request) Response {
	if req.Query == nil {
		return Response{Error: "query request missing query document"}
	}
	lock, err := w.Locks.Acquire(req.Database, false)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	res, err := queryexec.Run(db, req.Query.ToQueryFile(), w.MaxMemory)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: res}
}

func (w *Worker) handleHeader(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, false)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	m := db.Manifest
	return Response{Manifest: &m}
}

func (w *Worker) handleListDatabases() Response {
	names, err := ingest.ListDatabases(w.Root)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Names: names}
}

func (w *Worker) handleCheck(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, false)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	bad, err := db.Check()
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Corrupted: bad}
}

func (w *Worker) handleDownloadAttachment(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, false)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	path, err := db.AttachmentPath(req.Name)
	if err != nil {
		return Response{Error: err.Error()}
	}
	// The attachment itself streams over the bulk-transfer path after this
	// response, driven by the caller holding the connection open; see
	// ServeAttachment.
	return Response{Names: []string{path}}
}

// ServeAttachment streams the attachment named in a prior OpDownloadAttachment
// request's Response.Names[0] to conn via the bulk-transfer path, once the
// JSON response announcing it has already been written.
func (w *Worker) ServeAttachment(conn *wire.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "open attachment for download", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "stat attachment for download", err)
	}
	return conn.SendBulkWithAck(f, info.Size())
}

func (w *Worker) handleCreateDatabase(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, true)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	if _, err := ingest.Create(filepath.Join(w.Root, req.Database)); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func (w *Worker) handleNewBatch(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, true)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if err := db.NewBatch(req.Files, req.BatchName, req.Comment, w.MaxChunkBytes); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func (w *Worker) handleRestore(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, true)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	// Restore closes and reopens every table handle itself; drop the cached
	// Database first so a stale handle isn't reused after it.
	w.dropDatabase(req.Database)
	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if err := db.Restore(req.BatchName, w.MaxChunkBytes); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func (w *Worker) handleRemoveDatabase(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, true)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	w.dropDatabase(req.Database)
	if err := os.RemoveAll(filepath.Join(w.Root, req.Database)); err != nil {
		return Response{Error: loaditerr.Wrap(loaditerr.KindIO, "remove database", err).Error()}
	}
	return Response{}
}

func (w *Worker) handleAddAttachment(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, true)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if len(req.Files) != 1 {
		return Response{Error: "add_attachment requires exactly one source file"}
	}
	if err := db.AddAttachment(req.Name, req.Files[0]); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func (w *Worker) handleRemoveAttachment(req Request) Response {
	lock, err := w.Locks.Acquire(req.Database, true)
	if err != nil {
		return Response{Error: err.Error()}
	}
	defer lock.Release()

	db, err := w.openDatabase(req.Database)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if err := db.RemoveAttachment(req.Name); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}
