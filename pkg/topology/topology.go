package topology

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role identifies which restart group a host belongs to.
type Role string

const (
	RoleMaster Role = "master"
	RoleClient Role = "client"
	RoleData   Role = "data"
)

// File is the on-disk topology document. It may describe several clusters;
// the operator picks one at run time.
type File struct {
	Clusters []Cluster `yaml:"clusters"`
}

// Cluster is the immutable topology of one Elasticsearch cluster.
// Nodes that are both master and data are listed under data only.
type Cluster struct {
	Name    string   `yaml:"name"`
	Masters []string `yaml:"master,omitempty"`
	Clients []string `yaml:"client,omitempty"`
	Data    []string `yaml:"data"`
}

// Group is an ordered batch of hosts sharing a role.
type Group struct {
	Role  Role
	Hosts []string
}

// ParseTopologyFile parses a topology YAML file
func ParseTopologyFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a topology document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse topology YAML: %w", err)
	}
	if len(f.Clusters) == 0 {
		return nil, fmt.Errorf("topology defines no clusters")
	}
	for i := range f.Clusters {
		f.Clusters[i].normalize()
		if err := f.Clusters[i].Validate(); err != nil {
			return nil, fmt.Errorf("cluster #%d: %w", i+1, err)
		}
	}
	return &f, nil
}

// Find returns the cluster with the given name.
func (f *File) Find(name string) (*Cluster, error) {
	for i := range f.Clusters {
		if f.Clusters[i].Name == name {
			return &f.Clusters[i], nil
		}
	}
	return nil, fmt.Errorf("cluster %q not found in topology", name)
}

func (c *Cluster) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Masters = trimHosts(c.Masters)
	c.Clients = trimHosts(c.Clients)
	c.Data = trimHosts(c.Data)
}

func trimHosts(hosts []string) []string {
	out := hosts[:0]
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// Validate checks the invariants the restart sequencer relies on.
func (c *Cluster) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cluster name is required")
	}
	if len(c.Data) == 0 {
		return fmt.Errorf("cluster %s: at least one data node is required", c.Name)
	}

	seen := make(map[string]Role)
	for _, g := range c.Groups() {
		for _, h := range g.Hosts {
			if prev, ok := seen[h]; ok {
				return fmt.Errorf("cluster %s: host %s listed as both %s and %s", c.Name, h, prev, g.Role)
			}
			seen[h] = g.Role
		}
	}
	return nil
}

// Groups returns the restart plan: masters, then clients, then data.
// Empty groups are kept so callers see every phase.
func (c *Cluster) Groups() []Group {
	return []Group{
		{Role: RoleMaster, Hosts: c.Masters},
		{Role: RoleClient, Hosts: c.Clients},
		{Role: RoleData, Hosts: c.Data},
	}
}

// Members returns every host, data nodes first, for probing cluster-wide
// endpoints.
func (c *Cluster) Members() []string {
	all := make([]string, 0, len(c.Data)+len(c.Masters)+len(c.Clients))
	all = append(all, c.Data...)
	all = append(all, c.Masters...)
	all = append(all, c.Clients...)
	return all
}

// Representative is the node used for cluster-wide reads and writes.
func (c *Cluster) Representative() string {
	return c.Data[0]
}

// TotalHosts returns the number of hosts in the plan.
func (c *Cluster) TotalHosts() int {
	return len(c.Masters) + len(c.Clients) + len(c.Data)
}
