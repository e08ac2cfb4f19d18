package cluster

import "github.com/alvarosanz/loadit/internal/loaditerr"

// isWrite reports whether op mutates a database, which per spec.md §4.G
// must dispatch to the authoritative host (central's own node), not to a
// possibly-stale replica.
func isWrite(op string) bool {
	switch op {
	case OpNewBatch, OpRestoreDatabase, OpRemoveDatabase, OpAddAttachment, OpRemoveAttachment, OpCreateDatabase:
		return true
	default:
		return false
	}
}

// DispatchPolicy picks a worker for op against database, given the
// authoritative content hash central holds for it and localNode (central's
// own host's node name, authoritative for writes).
//
// Reads go to the node with the smallest in-flight load whose advertised
// hash for database matches authoritativeHash — a stale replica is never a
// dispatch candidate. Writes always go to localNode.
func DispatchPolicy(nodes map[string]Node, localNode, database, authoritativeHash, op string) (workerAddr string, err error) {
	if isWrite(op) {
		n, ok := nodes[localNode]
		if !ok {
			return "", loaditerr.Newf(loaditerr.KindNotFound, "local node %q has no registered workers", localNode)
		}
		return leastLoadedWorker(n)
	}

	bestNode, bestLoad := "", -1
	for name, n := range nodes {
		if authoritativeHash != "" && n.Databases[database] != authoritativeHash {
			continue
		}
		load := n.Load()
		if bestLoad == -1 || load < bestLoad {
			bestNode, bestLoad = name, load
		}
	}
	if bestNode == "" {
		return "", loaditerr.Newf(loaditerr.KindNotFound, "no fresh replica of database %q available", database)
	}
	return leastLoadedWorker(nodes[bestNode])
}

func leastLoadedWorker(n Node) (string, error) {
	best, bestLoad := "", -1
	for addr, load := range n.Workers {
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = addr, load
		}
	}
	if best == "" {
		return "", loaditerr.New(loaditerr.KindNotFound, "node has no registered workers")
	}
	return best, nil
}
