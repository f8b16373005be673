package inode

import (
	"context"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
	"github.com/marmos91/dittometa/pkg/metadata/store"
)

// DentryStore is the disk-backed name index of one directory.
//
// Every dentry lives under its name. File dentries whose inode is inlined
// additionally have a by-ID hard link in the "#fSiDs#" sub-directory that
// shares the same record, so the inode can be found and rewritten without
// knowing the name.
//
// DentryStore does no locking of its own: callers serialize through the
// owning DirInode.
type DentryStore struct {
	st       *Storage
	dirID    string
	mirrored bool
}

// NewDentryStore creates the dentry store of dirID.
func NewDentryStore(st *Storage, dirID string, mirrored bool) *DentryStore {
	return &DentryStore{st: st, dirID: dirID, mirrored: mirrored}
}

// DirID returns the ID of the directory.
func (d *DentryStore) DirID() string { return d.dirID }

// SetBuddyMirrored changes whether modifications are reported to the
// replication hook.
func (d *DentryStore) SetBuddyMirrored(mirrored bool) { d.mirrored = mirrored }

// NamePath returns the record path of the dentry called name.
func (d *DentryStore) NamePath(name string) store.RecordPath {
	return d.st.Layout.DentryPath(d.dirID, name)
}

// ByIDPath returns the record path of the by-ID link of entryID.
func (d *DentryStore) ByIDPath(entryID string) store.RecordPath {
	return d.st.Layout.ByIDPath(d.dirID, entryID)
}

// MkStore creates the on-disk directories of the store.
func (d *DentryStore) MkStore(ctx context.Context) error {
	dir := d.st.Layout.ByIDDir(d.dirID)
	if err := d.st.Records.MkdirAll(ctx, dir); err != nil {
		return errors.FromOS(err, string(dir))
	}
	d.st.modified(ctx, d.mirrored, store.RecordPath(d.st.Layout.DentryDir(d.dirID)), replication.KindDirectory)
	return nil
}

// RemoveStore removes the on-disk directories. The store must be empty.
func (d *DentryStore) RemoveStore(ctx context.Context) error {
	byID := d.st.Layout.ByIDDir(d.dirID)
	if err := d.st.Records.RemoveDir(ctx, byID); err != nil {
		if mapped := errors.FromOS(err, string(byID)); !errors.IsPathNotExists(mapped) {
			return mapped
		}
	}

	dir := d.st.Layout.DentryDir(d.dirID)
	if err := d.st.Records.RemoveDir(ctx, dir); err != nil {
		if mapped := errors.FromOS(err, string(dir)); !errors.IsPathNotExists(mapped) {
			return mapped
		}
	}
	d.st.deleted(ctx, d.mirrored, store.RecordPath(dir), replication.KindDirectory)
	return nil
}

// ============================================================================
// Lookup
// ============================================================================

// Lookup reads the dentry called name.
func (d *DentryStore) Lookup(ctx context.Context, name string) (*metadata.DirEntry, error) {
	if name == "" || name == store.ByIDSubdir {
		return nil, errors.NewPathNotExistsError(name)
	}
	e, err := d.st.readEntry(ctx, d.NamePath(name))
	if err != nil {
		return nil, err
	}
	e.Name = name
	return e, nil
}

// LookupByID reads the by-ID dentry of an inlined file. The returned entry
// has no name.
func (d *DentryStore) LookupByID(ctx context.Context, entryID string) (*metadata.DirEntry, error) {
	return d.st.readEntry(ctx, d.ByIDPath(entryID))
}

// List returns up to limit names starting at offset, and the offset to
// continue from.
func (d *DentryStore) List(ctx context.Context, offset, limit int) ([]string, int, error) {
	dir := d.st.Layout.DentryDir(d.dirID)
	names, next, err := d.st.Records.List(ctx, dir, offset, limit)
	if err != nil {
		return nil, offset, errors.FromOS(err, string(dir))
	}

	out := names[:0]
	for _, name := range names {
		if name != store.ByIDSubdir {
			out = append(out, name)
		}
	}
	return out, next, nil
}

// Entries reads every dentry of the directory.
func (d *DentryStore) Entries(ctx context.Context) ([]*metadata.DirEntry, error) {
	names, _, err := d.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]*metadata.DirEntry, 0, len(names))
	for _, name := range names {
		e, err := d.Lookup(ctx, name)
		if errors.IsPathNotExists(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Count returns the number of names in the directory.
func (d *DentryStore) Count(ctx context.Context) (int, error) {
	names, _, err := d.List(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// IsEmpty reports whether the directory holds neither names nor by-ID links.
func (d *DentryStore) IsEmpty(ctx context.Context) (bool, error) {
	names, _, err := d.List(ctx, 0, 2)
	if err != nil {
		if errors.IsPathNotExists(err) {
			return true, nil
		}
		return false, err
	}
	if len(names) > 0 {
		return false, nil
	}

	byID := d.st.Layout.ByIDDir(d.dirID)
	ids, _, err := d.st.Records.List(ctx, byID, 0, 1)
	if err != nil {
		if mapped := errors.FromOS(err, string(byID)); !errors.IsPathNotExists(mapped) {
			return false, mapped
		}
		return true, nil
	}
	return len(ids) == 0, nil
}

// ============================================================================
// Mutation
// ============================================================================

// Create stores a new dentry. Inlined file dentries are created under their
// by-ID name first and then hard linked to their name; a failure of the
// second step removes the first.
func (d *DentryStore) Create(ctx context.Context, e *metadata.DirEntry) error {
	namePath := d.NamePath(e.Name)
	data, err := d.st.Codec.EncodeDentry(e)
	if err != nil {
		return errors.NewInternalError(string(namePath), "cannot encode dentry", err)
	}

	if !e.Type.IsFile() || !e.IsInlined() {
		if err := d.st.Records.CreateRecord(ctx, namePath, data); err != nil {
			return errors.FromOS(err, string(namePath))
		}
		d.st.modified(ctx, d.mirrored, namePath, replication.KindDentry)
		return nil
	}

	byID := d.ByIDPath(e.EntryID)
	if err := d.st.Records.CreateRecord(ctx, byID, data); err != nil {
		return errors.FromOS(err, string(byID))
	}
	if err := d.st.Records.Link(ctx, byID, namePath); err != nil {
		if rmErr := d.st.Records.Remove(ctx, byID); rmErr != nil {
			logger.BugCtx(ctx, "Failed to unwind by-ID dentry", logger.Path(string(byID)), logger.Err(rmErr))
		}
		return errors.FromOS(err, string(namePath))
	}

	d.st.modified(ctx, d.mirrored, byID, replication.KindDentry)
	d.st.modified(ctx, d.mirrored, namePath, replication.KindDentry)
	return nil
}

// CreateHardlink adds toName as another name of the non-inlined file called
// fromName.
func (d *DentryStore) CreateHardlink(ctx context.Context, fromName, toName string) (*metadata.DirEntry, error) {
	from, err := d.Lookup(ctx, fromName)
	if err != nil {
		return nil, err
	}
	if from.IsInlined() {
		return nil, errors.NewInvalidArgumentError("cannot hard link an inlined inode")
	}

	link := from.Clone()
	link.Name = toName
	link.Inode = nil
	if err := d.Create(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Update rewrites the dentry of e in place. For inlined files the by-ID
// link shares the record and observes the change.
func (d *DentryStore) Update(ctx context.Context, e *metadata.DirEntry) error {
	p := d.NamePath(e.Name)
	data, err := d.st.Codec.EncodeDentry(e)
	if err != nil {
		return errors.NewInternalError(string(p), "cannot encode dentry", err)
	}
	if err := d.st.Records.WriteRecord(ctx, p, data); err != nil {
		return errors.FromOS(err, string(p))
	}
	d.st.modified(ctx, d.mirrored, p, replication.KindDentry)
	return nil
}

// Remove unlinks the dentry called name and returns it. With unlinkByID the
// by-ID link of an inlined file is removed as well.
func (d *DentryStore) Remove(ctx context.Context, name string, unlinkByID bool) (*metadata.DirEntry, error) {
	e, err := d.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	p := d.NamePath(name)
	if err := d.st.Records.Remove(ctx, p); err != nil {
		return nil, errors.FromOS(err, string(p))
	}
	d.st.deleted(ctx, d.mirrored, p, replication.KindDentry)

	if unlinkByID && e.Type.IsFile() && e.IsInlined() {
		if err := d.RemoveByID(ctx, e.EntryID); err != nil && !errors.IsPathNotExists(err) {
			return e, err
		}
	}
	return e, nil
}

// RemoveByID unlinks the by-ID link of entryID.
func (d *DentryStore) RemoveByID(ctx context.Context, entryID string) error {
	p := d.ByIDPath(entryID)
	if err := d.st.Records.Remove(ctx, p); err != nil {
		return errors.FromOS(err, string(p))
	}
	d.st.deleted(ctx, d.mirrored, p, replication.KindDentry)
	return nil
}

// Rename moves the dentry from to the name to, replacing an existing one.
func (d *DentryStore) Rename(ctx context.Context, from, to string) error {
	fromPath, toPath := d.NamePath(from), d.NamePath(to)
	if err := d.st.Records.Rename(ctx, fromPath, toPath); err != nil {
		return errors.FromOS(err, string(fromPath))
	}
	d.st.deleted(ctx, d.mirrored, fromPath, replication.KindDentry)
	d.st.modified(ctx, d.mirrored, toPath, replication.KindDentry)
	return nil
}

// LinkByIDToName creates the by-ID link of entryID for the record called
// name. An existing link is accepted: re-inlining may be re-run after a
// crash.
func (d *DentryStore) LinkByIDToName(ctx context.Context, entryID, name string) error {
	byID, namePath := d.ByIDPath(entryID), d.NamePath(name)
	if err := d.st.Records.Link(ctx, namePath, byID); err != nil {
		mapped := errors.FromOS(err, string(byID))
		if !errors.IsAlreadyExists(mapped) {
			return mapped
		}
	}
	d.st.modified(ctx, d.mirrored, byID, replication.KindDentry)
	return nil
}

// LinkRecord hard links an arbitrary record into this directory under name.
// The disposal directories use it to anchor unlinked inodes.
func (d *DentryStore) LinkRecord(ctx context.Context, from store.RecordPath, name string) error {
	to := d.NamePath(name)
	if err := d.st.Records.Link(ctx, from, to); err != nil {
		return errors.FromOS(err, string(to))
	}
	d.st.modified(ctx, d.mirrored, to, replication.KindDentry)
	return nil
}
