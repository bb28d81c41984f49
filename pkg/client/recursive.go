package client

import (
	"context"
	"errors"

	"github.com/mikekulinski/zkclient/pkg/zk"
)

// CreateRecursive creates path and any missing ancestors. Ancestors are
// created with an empty payload; concurrent creators are expected, so
// an ancestor that already exists is fine. Only the leaf colliding with
// an existing node fails with ErrNodeExists. The walk is not atomic: a
// concurrent delete of a freshly created ancestor can make the leaf
// create fail with ErrNoNode, which is surfaced as-is.
func (c *Client) CreateRecursive(ctx context.Context, path string, data []byte) error {
	if err := zk.ValidatePath(path); err != nil {
		return err
	}

	names := zk.SplitPath(path)
	ancestor := ""
	for _, name := range names[:len(names)-1] {
		ancestor += "/" + name
		if _, err := c.Create(ctx, ancestor, nil, 0, nil); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	_, err := c.Create(ctx, path, data, 0, nil)
	return err
}

// DeleteRecursive deletes path and everything under it: children are
// listed, each subtree deleted, then path itself. The walk is not
// atomic against concurrent writers; if someone creates a child between
// the listing and the final delete, that delete fails with ErrNotEmpty
// and the caller decides whether to retry. A child that vanishes
// mid-walk is not an error.
func (c *Client) DeleteRecursive(ctx context.Context, path string) error {
	children, err := c.Children(ctx, path)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := c.DeleteRecursive(ctx, zk.Join(path, child)); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return err
		}
	}
	return c.Delete(ctx, path, -1)
}

// PruneOptions tune Prune.
type PruneOptions struct {
	// DryRun only logs what would be deleted.
	DryRun bool
	// Force deletes ephemeral nodes too instead of preserving them.
	Force bool
}

// Prune deletes the subtree at path like DeleteRecursive, but preserves
// ephemeral nodes (and their ancestors) unless Force is set. With
// DryRun it only reports what it would do through the client's logger.
func (c *Client) Prune(ctx context.Context, path string, opts PruneOptions) error {
	_, err := c.prune(ctx, path, opts)
	return err
}

// prune returns whether the node at path was kept.
func (c *Client) prune(ctx context.Context, path string, opts PruneOptions) (bool, error) {
	children, err := c.Children(ctx, path)
	if err != nil {
		return false, err
	}

	hasEphemeralChild := false
	for _, child := range children {
		kept, err := c.prune(ctx, zk.Join(path, child), opts)
		if err != nil && !errors.Is(err, zk.ErrNoNode) {
			return false, err
		}
		hasEphemeralChild = hasEphemeralChild || kept
	}
	if hasEphemeralChild {
		if !opts.DryRun {
			c.log.Debugf("not deleting %q because it has an ephemeral child", path)
		}
		return true, nil
	}

	ephemeral := false
	if !opts.Force {
		ephemeral, err = c.IsEphemeral(ctx, path)
		if err != nil {
			return false, err
		}
	}
	if opts.DryRun {
		if ephemeral {
			c.log.Infof("(dry-run) not deleting %q because it is ephemeral", path)
		} else {
			c.log.Infof("(dry-run) would delete %q", path)
		}
		return ephemeral, nil
	}
	if ephemeral {
		c.log.Debugf("not deleting %q because it is ephemeral", path)
		return true, nil
	}
	c.log.Debugf("deleting %q", path)
	return false, c.Delete(ctx, path, -1)
}
