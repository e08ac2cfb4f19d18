package cluster

import "sync"

// Node is central's view of one cluster member: its workers' in-flight load,
// its advertised per-database content hashes, and whether it participates as
// a replication backup target.
type Node struct {
	Workers   map[string]int    // worker addr -> in-flight request count
	Databases map[string]string // database name -> content hash
	Backup    bool
}

// Load is the sum of in-flight requests across this node's workers.
func (n Node) Load() int {
	total := 0
	for _, load := range n.Workers {
		total += load
	}
	return total
}

// NodeRegistry is central's {node -> Node} table.
type NodeRegistry struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// NewNodeRegistry returns an empty registry; nodes are added one at a time
// via Seed or RegisterWorker as they come up.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]*Node)}
}

// Seed registers a node before any worker of it has connected, so a fresh
// central can still answer list_databases against disk state.
func (r *NodeRegistry) Seed(name string, backup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; !ok {
		r.nodes[name] = &Node{Workers: make(map[string]int), Databases: make(map[string]string), Backup: backup}
	}
}

// RegisterWorker adds (or re-adds) a worker address under node, starting it
// at zero load.
func (r *NodeRegistry) RegisterWorker(node, workerAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[node]
	if !ok {
		n = &Node{Workers: make(map[string]int), Databases: make(map[string]string)}
		r.nodes[node] = n
	}
	if _, ok := n.Workers[workerAddr]; !ok {
		n.Workers[workerAddr] = 0
	}
}

// RemoveWorker drops a worker address from node.
func (r *NodeRegistry) RemoveWorker(node, workerAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[node]; ok {
		delete(n.Workers, workerAddr)
	}
}

// SetDatabaseHash records the content hash a node advertises for database.
func (r *NodeRegistry) SetDatabaseHash(node, database, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[node]; ok {
		n.Databases[database] = hash
	}
}

// AdjustLoad adds delta (positive or negative) to a worker's in-flight load.
func (r *NodeRegistry) AdjustLoad(node, workerAddr string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[node]; ok {
		n.Workers[workerAddr] += delta
	}
}

// Snapshot returns a shallow copy of the node table for read-only use
// (dispatch decisions, listing).
func (r *NodeRegistry) Snapshot() map[string]Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Node, len(r.nodes))
	for name, n := range r.nodes {
		workers := make(map[string]int, len(n.Workers))
		for k, v := range n.Workers {
			workers[k] = v
		}
		databases := make(map[string]string, len(n.Databases))
		for k, v := range n.Databases {
			databases[k] = v
		}
		out[name] = Node{Workers: workers, Databases: databases, Backup: n.Backup}
	}
	return out
}
