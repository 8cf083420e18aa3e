package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
)

// Config controls how nodes are addressed and how long requests may take.
type Config struct {
	Scheme         string        // default "http"
	Port           int           // default 9200, ignored when the host carries a port
	RequestTimeout time.Duration // default 30s
	ProbeTimeout   time.Duration // default 1s, used for the root readiness probe
}

// Client talks to the administrative HTTP API of individual nodes. One
// underlying go-elasticsearch transport is kept per node so that requests
// go to exactly the node asked for.
//
// Requests bypass elasticsearch.Client.Perform and its product check, which
// rejects 5.x and OSS 7.x nodes.
type Client struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*esapi.API
}

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Port == 0 {
		cfg.Port = 9200
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = time.Second
	}
	return &Client{
		cfg:     cfg,
		clients: make(map[string]*esapi.API),
	}
}

// Address returns the base URL used for a node.
func (c *Client) Address(node string) string {
	if strings.Contains(node, "://") {
		return node
	}
	if _, _, err := net.SplitHostPort(node); err == nil {
		return fmt.Sprintf("%s://%s", c.cfg.Scheme, node)
	}
	return fmt.Sprintf("%s://%s", c.cfg.Scheme, net.JoinHostPort(node, fmt.Sprint(c.cfg.Port)))
}

func (c *Client) nodeClient(node string) (*esapi.API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[node]; ok {
		return cl, nil
	}

	cl, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{c.Address(node)},
		DisableRetry: true,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: c.cfg.ProbeTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: 2,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", node, err)
	}
	api := esapi.New(cl.Transport)
	c.clients[node] = api
	return api, nil
}

// Health fetches the aggregate cluster health through node.
func (c *Client) Health(ctx context.Context, node string) (ClusterHealth, error) {
	var h ClusterHealth

	cl, err := c.nodeClient(node)
	if err != nil {
		return h, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := cl.Cluster.Health(cl.Cluster.Health.WithContext(ctx))
	if err := decode(res, err, &h); err != nil {
		return h, fmt.Errorf("cluster health via %s: %w", node, err)
	}
	return h, nil
}

// Indices lists every index name known to the cluster.
func (c *Client) Indices(ctx context.Context, node string) ([]string, error) {
	cl, err := c.nodeClient(node)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := cl.Cat.Indices(
		cl.Cat.Indices.WithContext(ctx),
		cl.Cat.Indices.WithH("index"),
		cl.Cat.Indices.WithFormat("json"),
	)
	var rows []catIndex
	if err := decode(res, err, &rows); err != nil {
		return nil, fmt.Errorf("list indices via %s: %w", node, err)
	}

	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if name := strings.TrimSpace(r.Index); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ShardStats returns every shard copy of index keyed by shard id.
func (c *Client) ShardStats(ctx context.Context, node, index string) (map[string][]ShardCopy, error) {
	cl, err := c.nodeClient(node)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := cl.Indices.Stats(
		cl.Indices.Stats.WithContext(ctx),
		cl.Indices.Stats.WithIndex(index),
		cl.Indices.Stats.WithLevel("shards"),
	)
	var stats indicesStats
	if err := decode(res, err, &stats); err != nil {
		return nil, fmt.Errorf("shard stats for %s via %s: %w", index, node, err)
	}

	idx, ok := stats.Indices[index]
	if !ok {
		return nil, fmt.Errorf("shard stats for %s via %s: index missing from response", index, node)
	}

	shards := make(map[string][]ShardCopy, len(idx.Shards))
	for id, copies := range idx.Shards {
		for _, s := range copies {
			shards[id] = append(shards[id], ShardCopy{
				Node:    s.Routing.Node,
				Primary: s.Routing.Primary,
				SyncID:  s.syncID(),
			})
		}
	}
	return shards, nil
}

// SyncedFlush issues POST /<index>/_flush/synced. A conflict (shards with
// in-flight writes) comes back as an error.
func (c *Client) SyncedFlush(ctx context.Context, node, index string) error {
	cl, err := c.nodeClient(node)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := cl.Indices.FlushSynced(
		cl.Indices.FlushSynced.WithContext(ctx),
		cl.Indices.FlushSynced.WithIndex(index),
	)
	if err := decode(res, err, nil); err != nil {
		return fmt.Errorf("synced flush of %s: %w", index, err)
	}
	return nil
}

// Flush issues a plain POST /<index>/_flush.
func (c *Client) Flush(ctx context.Context, node, index string) error {
	cl, err := c.nodeClient(node)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := cl.Indices.Flush(
		cl.Indices.Flush.WithContext(ctx),
		cl.Indices.Flush.WithIndex(index),
	)
	if err := decode(res, err, nil); err != nil {
		return fmt.Errorf("flush of %s: %w", index, err)
	}
	return nil
}

// SetAllocation writes the transient cluster.routing.allocation.enable
// setting.
func (c *Client) SetAllocation(ctx context.Context, node string, mode AllocationMode) error {
	cl, err := c.nodeClient(node)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]map[string]string{
		"transient": {"cluster.routing.allocation.enable": string(mode)},
	})
	if err != nil {
		return err
	}

	res, err := cl.Cluster.PutSettings(bytes.NewReader(body), cl.Cluster.PutSettings.WithContext(ctx))
	if err := decode(res, err, nil); err != nil {
		return fmt.Errorf("set allocation %s via %s: %w", mode, node, err)
	}
	return nil
}

// Root fetches the root document of node with the short probe timeout.
func (c *Client) Root(ctx context.Context, node string) (*NodeInfo, error) {
	cl, err := c.nodeClient(node)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	res, err := cl.Info(cl.Info.WithContext(ctx))
	var info NodeInfo
	if err := decode(res, err, &info); err != nil {
		return nil, fmt.Errorf("root of %s: %w", node, err)
	}
	return &info, nil
}

// decode closes the response body, turns non-2xx answers into errors and
// unmarshals the body into v when v is not nil.
func decode(res *esapi.Response, err error, v interface{}) error {
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &ResponseError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ResponseError is a non-2xx answer from the admin API.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
