package es

// Status is the aggregate cluster colour.
type Status string

const (
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

// ClusterHealth is a snapshot of _cluster/health. It is never persisted.
type ClusterHealth struct {
	ClusterName        string `json:"cluster_name"`
	Status             Status `json:"status"`
	NumberOfNodes      int    `json:"number_of_nodes"`
	RelocatingShards   int    `json:"relocating_shards"`
	InitializingShards int    `json:"initializing_shards"`
	UnassignedShards   int    `json:"unassigned_shards"`
}

// ShardCopy is one copy (primary or replica) of a shard as reported by the
// shard-level index stats.
type ShardCopy struct {
	Node    string
	Primary bool
	// SyncID is the commit's sync marker, nil when the copy has none.
	SyncID *string
}

// NodeInfo is the root document a node serves on GET /.
type NodeInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
	Tagline string `json:"tagline"`
}

// ExpectedTagline is what a started node answers on its root endpoint.
const ExpectedTagline = "You Know, for Search"

// Ready reports whether the root document came from a started node.
func (n *NodeInfo) Ready() bool {
	return n != nil && n.Tagline == ExpectedTagline
}

// AllocationMode is the value of cluster.routing.allocation.enable.
type AllocationMode string

const (
	AllocationAll  AllocationMode = "all"
	AllocationNone AllocationMode = "none"
)

// wire shapes

type catIndex struct {
	Index string `json:"index"`
}

type indicesStats struct {
	Indices map[string]struct {
		Shards map[string][]shardStats `json:"shards"`
	} `json:"indices"`
}

type shardStats struct {
	Routing struct {
		Node    string `json:"node"`
		Primary bool   `json:"primary"`
	} `json:"routing"`
	Commit *struct {
		UserData map[string]string `json:"user_data"`
	} `json:"commit"`
}

func (s shardStats) syncID() *string {
	if s.Commit == nil {
		return nil
	}
	id, ok := s.Commit.UserData["sync_id"]
	if !ok {
		return nil
	}
	return &id
}
