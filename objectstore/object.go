// Package objectstore defines the narrow, git-compatible content-addressed
// object store that the dataset/repo/merge layers are built on (spec.md §6).
// It is deliberately small: commits, trees, blobs, refs, merge-base and
// reachability queries, and an index abstraction for building new trees.
package objectstore

import (
	"sort"
	"time"

	digest "github.com/opencontainers/go-digest"
	"gitlab.com/tozd/go/errors"
)

// OID identifies a blob, tree, or commit object by the digest of its
// serialized content. The zero value is the sentinel for "no object" (an
// absent tree on one side of a diff, or a repository with no commits yet).
type OID digest.Digest

// IsZero reports whether oid is the "no object" sentinel.
func (oid OID) IsZero() bool { return oid == "" }

// String returns the canonical digest string (e.g. "sha256:abcd...").
func (oid OID) String() string { return string(oid) }

func hashOID(data []byte) OID {
	return OID(digest.FromBytes(data))
}

// HashBlob returns the content-addressed OID for a blob's raw bytes.
func HashBlob(data []byte) OID {
	return hashOID(data)
}

// Kind distinguishes the three object types the store knows about.
type Kind int

const (
	// KindBlob is a feature or meta blob.
	KindBlob Kind = iota
	// KindTree is a directory of named entries.
	KindTree
	// KindCommit is a commit object.
	KindCommit
)

// EntryMode distinguishes file entries from sub-tree entries within a Tree.
type EntryMode int

const (
	// ModeBlob is a regular (feature/meta) blob entry.
	ModeBlob EntryMode = iota
	// ModeTree is a sub-tree entry.
	ModeTree
)

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name string
	Mode EntryMode
	OID  OID
}

// Tree is an immutable, content-addressed directory listing. Entries are
// always kept sorted by Name so that two trees with the same entries hash to
// the same OID regardless of insertion order.
type Tree struct {
	Entries []TreeEntry
}

// Get returns the entry with the given name, if any.
func (t Tree) Get(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// NewTree builds a Tree from an unordered entry slice, sorting it by name so
// that two trees with identical entries always hash to the same OID.
func NewTree(entries []TreeEntry) Tree {
	return newTree(entries)
}

func newTree(entries []TreeEntry) Tree {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return Tree{Entries: sorted}
}

// HashTree returns the content-addressed OID for a tree, computed from its
// sorted entry listing.
func HashTree(t Tree) OID {
	return hashOID(newTree(t.Entries).encode())
}

func (t Tree) encode() []byte {
	var buf []byte
	for _, e := range t.Entries {
		mode := "blob"
		if e.Mode == ModeTree {
			mode = "tree"
		}
		buf = append(buf, []byte(mode)...)
		buf = append(buf, ' ')
		buf = append(buf, []byte(e.OID.String())...)
		buf = append(buf, '\t')
		buf = append(buf, []byte(e.Name)...)
		buf = append(buf, '\n')
	}
	return buf
}

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is an immutable (tree, parents, author, committer, message) tuple.
type Commit struct {
	Tree      OID
	Parents   []OID
	Author    Signature
	Committer Signature
	Message   string
}

// HashCommit returns the content-addressed OID for a commit.
func HashCommit(c Commit) OID {
	return hashOID(c.encode())
}

func (c Commit) encode() []byte {
	var buf []byte
	buf = append(buf, []byte("tree "+c.Tree.String()+"\n")...)
	for _, p := range c.Parents {
		buf = append(buf, []byte("parent "+p.String()+"\n")...)
	}
	buf = append(buf, []byte("author "+c.Author.Name+" <"+c.Author.Email+"> "+c.Author.When.UTC().Format(time.RFC3339Nano)+"\n")...)
	buf = append(buf, []byte("committer "+c.Committer.Name+" <"+c.Committer.Email+"> "+c.Committer.When.UTC().Format(time.RFC3339Nano)+"\n")...)
	buf = append(buf, '\n')
	buf = append(buf, []byte(c.Message)...)
	return buf
}

// DeltaStatus classifies how a blob path changed between two trees.
type DeltaStatus int

const (
	// Unmodified means the path is present and identical on both sides.
	Unmodified DeltaStatus = iota
	// Added means the path exists only on the new side.
	Added
	// Deleted means the path exists only on the old side.
	Deleted
	// Modified means the path exists on both sides with different content.
	Modified
)

// Delta describes one changed path between two trees.
type Delta struct {
	Status           DeltaStatus
	OldPath, NewPath string
	OldOID, NewOID   OID
}

// ErrNotFound is returned when a ref or OID cannot be resolved to an object.
var ErrNotFound = errors.Base("object not found")

// ErrNotImplemented is the error for delta/object shapes this store
// deliberately does not model (renames, copies, typechanges; spec.md §6).
// Delta has no status for them and no function in this module returns it.
var ErrNotImplemented = errors.Base("not implemented")
