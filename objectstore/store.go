package objectstore

import "context"

// IndexHandle is a mutable, in-progress tree builder seeded from an existing
// tree. Callers add/remove blob paths and then flush it to a new immutable
// Tree with Store.WriteTree. A handle is scoped to one commit operation
// (spec.md §3 Lifecycle).
type IndexHandle interface {
	// Add stages path to point at oid, overwriting any existing entry.
	Add(path string, oid OID)
	// Remove unstages path. It is not an error to remove a path that is
	// already absent; callers that need to detect that should Contains first.
	Remove(path string)
	// Contains reports whether path is currently staged.
	Contains(path string) bool
}

// Store is the narrow object-store interface consumed by the dataset, repo,
// and merge layers (spec.md §6). It is implemented by the in-memory adapter
// in the memstore subpackage, which the tests of every package also use.
type Store interface {
	// Resolve peels a ref name or OID string to an object kind and OID.
	// It fails with ErrNotFound if the ref/OID cannot be resolved.
	Resolve(ctx context.Context, refOrOID string) (Kind, OID, error)

	// ReadTree returns the Tree object at oid.
	ReadTree(ctx context.Context, oid OID) (Tree, error)

	// ReadBlob returns the raw bytes of the blob at oid.
	ReadBlob(ctx context.Context, oid OID) ([]byte, error)

	// ReadCommit returns the Commit object at oid.
	ReadCommit(ctx context.Context, oid OID) (Commit, error)

	// DiffTrees computes the set of blob-path deltas between tree a (old)
	// and tree b (new). Either OID may be the zero value, meaning "empty
	// tree". If swap is true, a and b are compared with their roles
	// reversed (b is old, a is new) while OldPath/NewPath retain their
	// normal meaning relative to the swapped roles.
	DiffTrees(ctx context.Context, a, b OID, swap bool) ([]Delta, error)

	// MergeBase returns the deepest common ancestor commit of a and b, or
	// ok=false if the commits share no ancestry.
	MergeBase(ctx context.Context, a, b OID) (oid OID, ok bool, err error)

	// Reachable reports whether ancestor is an ancestor of (or equal to)
	// descendant.
	Reachable(ctx context.Context, ancestor, descendant OID) (bool, error)

	// CreateBlob stores data as a new blob object and returns its OID.
	CreateBlob(ctx context.Context, data []byte) (OID, error)

	// BuildTreeFrom returns a new IndexHandle seeded with the entries of
	// the tree at oid (which may be the zero value for an empty index).
	BuildTreeFrom(ctx context.Context, oid OID) (IndexHandle, error)

	// WriteTree flushes a handle's staged entries to a new immutable Tree
	// and returns its OID.
	WriteTree(ctx context.Context, handle IndexHandle) (OID, error)

	// CreateCommit creates a new commit object and, in the same atomic
	// call, advances refname to point at it.
	CreateCommit(ctx context.Context, refname string, author, committer Signature, message string, tree OID, parents []OID) (OID, error)

	// UpdateRef moves refname to oid directly, without creating a commit.
	// Used for fast-forwards.
	UpdateRef(ctx context.Context, refname string, oid OID) error

	// ResolveRef returns the OID currently pointed to by refname.
	ResolveRef(ctx context.Context, refname string) (OID, bool, error)

	// CurrentBranch returns the name of the branch HEAD points to.
	CurrentBranch(ctx context.Context) (string, error)
}
