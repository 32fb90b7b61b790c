// Package memstore is an in-memory implementation of objectstore.Store. It
// exists so the dataset/repo/diff/merge layers can be built and tested
// without a real git backend; the production object store this core is
// designed against is consumed entirely through objectstore.Store (spec.md §6).
package memstore

import (
	"context"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/objectstore"
)

type object struct {
	kind   objectstore.Kind
	blob   []byte
	tree   objectstore.Tree
	commit objectstore.Commit
}

// Store is an in-memory, append-only object database plus a simple ref map.
// It satisfies objectstore.Store.
type Store struct {
	objects map[objectstore.OID]object
	refs    map[string]objectstore.OID
	head    string // name of the branch HEAD points to
}

// New returns an empty Store with HEAD pointing at branch "refs/heads/master".
func New() *Store {
	return &Store{
		objects: make(map[objectstore.OID]object),
		refs:    make(map[string]objectstore.OID),
		head:    "refs/heads/master",
	}
}

func (s *Store) putBlob(data []byte) objectstore.OID {
	cp := make([]byte, len(data))
	copy(cp, data)
	oid := objectstore.HashBlob(cp)
	s.objects[oid] = object{kind: objectstore.KindBlob, blob: cp}
	return oid
}

func (s *Store) putTree(t objectstore.Tree) objectstore.OID {
	t = objectstore.NewTree(t.Entries)
	oid := objectstore.HashTree(t)
	s.objects[oid] = object{kind: objectstore.KindTree, tree: t}
	return oid
}

func (s *Store) putCommit(c objectstore.Commit) objectstore.OID {
	oid := objectstore.HashCommit(c)
	s.objects[oid] = object{kind: objectstore.KindCommit, commit: c}
	return oid
}

// Resolve implements objectstore.Store.
func (s *Store) Resolve(ctx context.Context, refOrOID string) (objectstore.Kind, objectstore.OID, error) {
	if refOrOID == "HEAD" {
		refOrOID = s.head
	}
	if oid, ok := s.refs[refOrOID]; ok {
		obj, ok := s.objects[oid]
		if !ok {
			errE := errors.WithStack(objectstore.ErrNotFound)
			errors.Details(errE)["ref"] = refOrOID
			return 0, "", errE
		}
		return obj.kind, oid, nil
	}
	if obj, ok := s.objects[objectstore.OID(refOrOID)]; ok {
		return obj.kind, objectstore.OID(refOrOID), nil
	}
	errE := errors.WithStack(objectstore.ErrNotFound)
	errors.Details(errE)["ref"] = refOrOID
	return 0, "", errE
}

// ReadTree implements objectstore.Store.
func (s *Store) ReadTree(ctx context.Context, oid objectstore.OID) (objectstore.Tree, error) {
	obj, ok := s.objects[oid]
	if !ok || obj.kind != objectstore.KindTree {
		errE := errors.WithStack(objectstore.ErrNotFound)
		errors.Details(errE)["oid"] = oid.String()
		return objectstore.Tree{}, errE
	}
	return obj.tree, nil
}

// ReadBlob implements objectstore.Store.
func (s *Store) ReadBlob(ctx context.Context, oid objectstore.OID) ([]byte, error) {
	obj, ok := s.objects[oid]
	if !ok || obj.kind != objectstore.KindBlob {
		errE := errors.WithStack(objectstore.ErrNotFound)
		errors.Details(errE)["oid"] = oid.String()
		return nil, errE
	}
	return obj.blob, nil
}

// ReadCommit implements objectstore.Store.
func (s *Store) ReadCommit(ctx context.Context, oid objectstore.OID) (objectstore.Commit, error) {
	obj, ok := s.objects[oid]
	if !ok || obj.kind != objectstore.KindCommit {
		errE := errors.WithStack(objectstore.ErrNotFound)
		errors.Details(errE)["oid"] = oid.String()
		return objectstore.Commit{}, errE
	}
	return obj.commit, nil
}

// flatten walks a tree recursively, returning path -> blob OID for every
// blob entry (directories are not included). Paths use "/" as separator.
func (s *Store) flatten(ctx context.Context, oid objectstore.OID, prefix string, out map[string]objectstore.OID) error {
	if oid.IsZero() {
		return nil
	}
	t, err := s.ReadTree(ctx, oid)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if e.Mode == objectstore.ModeTree {
			if err := s.flatten(ctx, e.OID, path, out); err != nil {
				return err
			}
		} else {
			out[path] = e.OID
		}
	}
	return nil
}

// DiffTrees implements objectstore.Store.
func (s *Store) DiffTrees(ctx context.Context, a, b objectstore.OID, swap bool) ([]objectstore.Delta, error) {
	oldOID, newOID := a, b
	if swap {
		oldOID, newOID = b, a
	}
	oldPaths := map[string]objectstore.OID{}
	newPaths := map[string]objectstore.OID{}
	if err := s.flatten(ctx, oldOID, "", oldPaths); err != nil {
		return nil, err
	}
	if err := s.flatten(ctx, newOID, "", newPaths); err != nil {
		return nil, err
	}

	var deltas []objectstore.Delta
	for path, oldBlob := range oldPaths {
		newBlob, ok := newPaths[path]
		if !ok {
			deltas = append(deltas, objectstore.Delta{Status: objectstore.Deleted, OldPath: path, OldOID: oldBlob})
			continue
		}
		if newBlob != oldBlob {
			deltas = append(deltas, objectstore.Delta{Status: objectstore.Modified, OldPath: path, NewPath: path, OldOID: oldBlob, NewOID: newBlob})
		}
	}
	for path, newBlob := range newPaths {
		if _, ok := oldPaths[path]; !ok {
			deltas = append(deltas, objectstore.Delta{Status: objectstore.Added, NewPath: path, NewOID: newBlob})
		}
	}
	return deltas, nil
}

func (s *Store) parents(oid objectstore.OID) []objectstore.OID {
	obj, ok := s.objects[oid]
	if !ok || obj.kind != objectstore.KindCommit {
		return nil
	}
	return obj.commit.Parents
}

// Reachable implements objectstore.Store.
func (s *Store) Reachable(ctx context.Context, ancestor, descendant objectstore.OID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	visited := map[objectstore.OID]bool{}
	queue := []objectstore.OID{descendant}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.IsZero() || visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == ancestor {
			return true, nil
		}
		queue = append(queue, s.parents(cur)...)
	}
	return false, nil
}

// MergeBase implements objectstore.Store.
func (s *Store) MergeBase(ctx context.Context, a, b objectstore.OID) (objectstore.OID, bool, error) {
	ancestorsA := map[objectstore.OID]int{}
	depth := 0
	queue := []objectstore.OID{a}
	for len(queue) > 0 {
		var next []objectstore.OID
		for _, oid := range queue {
			if oid.IsZero() {
				continue
			}
			if _, ok := ancestorsA[oid]; ok {
				continue
			}
			ancestorsA[oid] = depth
			next = append(next, s.parents(oid)...)
		}
		queue = next
		depth++
	}

	visited := map[objectstore.OID]bool{}
	queue = []objectstore.OID{b}
	var best objectstore.OID
	bestDepth := -1
	bestFound := false
	for len(queue) > 0 {
		var next []objectstore.OID
		for _, oid := range queue {
			if oid.IsZero() || visited[oid] {
				continue
			}
			visited[oid] = true
			if d, ok := ancestorsA[oid]; ok {
				if !bestFound || d < bestDepth {
					best = oid
					bestDepth = d
					bestFound = true
				}
			}
			next = append(next, s.parents(oid)...)
		}
		queue = next
	}
	return best, bestFound, nil
}

// CreateBlob implements objectstore.Store.
func (s *Store) CreateBlob(ctx context.Context, data []byte) (objectstore.OID, error) {
	return s.putBlob(data), nil
}

type indexHandle struct {
	entries map[string]objectstore.OID
}

func (h *indexHandle) Add(path string, oid objectstore.OID) { h.entries[path] = oid }
func (h *indexHandle) Remove(path string)                   { delete(h.entries, path) }

func (h *indexHandle) Contains(path string) bool {
	_, ok := h.entries[path]
	return ok
}

// BuildTreeFrom implements objectstore.Store.
func (s *Store) BuildTreeFrom(ctx context.Context, oid objectstore.OID) (objectstore.IndexHandle, error) {
	entries := map[string]objectstore.OID{}
	if err := s.flatten(ctx, oid, "", entries); err != nil {
		return nil, err
	}
	return &indexHandle{entries: entries}, nil
}

// WriteTree implements objectstore.Store. It rebuilds the tree hierarchy
// implied by the handle's flat path -> blob OID map, writing any
// intermediate directory trees bottom-up.
func (s *Store) WriteTree(ctx context.Context, handle objectstore.IndexHandle) (objectstore.OID, error) {
	h, ok := handle.(*indexHandle)
	if !ok {
		return "", errors.Errorf("handle not created by this store: %T", handle)
	}

	type dirNode struct {
		blobs map[string]objectstore.OID
		dirs  map[string]*dirNode
	}
	root := &dirNode{blobs: map[string]objectstore.OID{}, dirs: map[string]*dirNode{}}

	for path, oid := range h.entries {
		parts := strings.Split(path, "/")
		cur := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur.dirs[part]
			if !ok {
				next = &dirNode{blobs: map[string]objectstore.OID{}, dirs: map[string]*dirNode{}}
				cur.dirs[part] = next
			}
			cur = next
		}
		cur.blobs[parts[len(parts)-1]] = oid
	}

	var writeDir func(n *dirNode) objectstore.OID
	writeDir = func(n *dirNode) objectstore.OID {
		var entries []objectstore.TreeEntry
		for name, oid := range n.blobs {
			entries = append(entries, objectstore.TreeEntry{Name: name, Mode: objectstore.ModeBlob, OID: oid})
		}
		for name, sub := range n.dirs {
			entries = append(entries, objectstore.TreeEntry{Name: name, Mode: objectstore.ModeTree, OID: writeDir(sub)})
		}
		t := objectstore.NewTree(entries)
		return s.putTree(t)
	}

	return writeDir(root), nil
}

// CreateCommit implements objectstore.Store.
func (s *Store) CreateCommit(ctx context.Context, refname string, author, committer objectstore.Signature, message string, tree objectstore.OID, parents []objectstore.OID) (objectstore.OID, error) {
	c := objectstore.Commit{Tree: tree, Parents: parents, Author: author, Committer: committer, Message: message}
	oid := s.putCommit(c)
	if err := s.UpdateRef(ctx, refname, oid); err != nil {
		return "", err
	}
	return oid, nil
}

// UpdateRef implements objectstore.Store.
func (s *Store) UpdateRef(ctx context.Context, refname string, oid objectstore.OID) error {
	if refname == "HEAD" {
		refname = s.head
	}
	s.refs[refname] = oid
	return nil
}

// ResolveRef implements objectstore.Store.
func (s *Store) ResolveRef(ctx context.Context, refname string) (objectstore.OID, bool, error) {
	if refname == "HEAD" {
		refname = s.head
	}
	oid, ok := s.refs[refname]
	return oid, ok, nil
}

// CurrentBranch implements objectstore.Store.
func (s *Store) CurrentBranch(ctx context.Context) (string, error) {
	return s.head, nil
}

// SetCurrentBranch points HEAD at a different branch ref, for tests that
// exercise branch switching without a full checkout implementation.
func (s *Store) SetCurrentBranch(name string) {
	s.head = name
}
