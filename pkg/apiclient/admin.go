package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/marmos91/dittometa/pkg/adminapi/handlers"
	"github.com/marmos91/dittometa/pkg/metadata/metastore"
)

// Health probes the record store of the node.
func (c *Client) Health(ctx context.Context) (handlers.StoreHealth, error) {
	var h handlers.StoreHealth
	err := c.get(ctx, "/healthz/ready", &h)
	return h, err
}

// Stats returns the cache occupancy of the node.
func (c *Client) Stats(ctx context.Context) (metastore.Stats, error) {
	var s metastore.Stats
	err := c.get(ctx, "/api/v1/stats", &s)
	return s, err
}

// ListEntries returns one page of the names in dirID.
func (c *Client) ListEntries(ctx context.Context, dirID string, offset, limit int) (handlers.ListResponse, error) {
	var l handlers.ListResponse
	path := fmt.Sprintf("/api/v1/dirs/%s/entries?offset=%d&limit=%d", url.PathEscape(dirID), offset, limit)
	err := c.get(ctx, path, &l)
	return l, err
}

// RawEntry is a dentry as served by the node. The entry is kept as raw JSON
// since its stripe pattern is polymorphic.
type RawEntry struct {
	Entry    json.RawMessage `json:"entry"`
	Outdated bool            `json:"outdated,omitempty"`
}

// GetEntry returns the dentry name in dirID with its inode data.
func (c *Client) GetEntry(ctx context.Context, dirID, name string) (RawEntry, error) {
	var e RawEntry
	path := fmt.Sprintf("/api/v1/dirs/%s/entries/%s", url.PathEscape(dirID), url.PathEscape(name))
	err := c.get(ctx, path, &e)
	return e, err
}

// Locks returns the lock queues of the file name in dirID.
func (c *Client) Locks(ctx context.Context, dirID, name string) (handlers.LockResponse, error) {
	var l handlers.LockResponse
	path := fmt.Sprintf("/api/v1/locks/%s/%s", url.PathEscape(dirID), url.PathEscape(name))
	err := c.get(ctx, path, &l)
	return l, err
}
