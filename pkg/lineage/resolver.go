// ABOUTME: Lineage resolution over a forest of versioned documents
// ABOUTME: Finds roots, families, ordered history and latest candidates

package lineage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/version"
)

const (
	// DefaultMaxDepth bounds the upward walk from a document to its root.
	DefaultMaxDepth = 100
	// DefaultMaxFamily bounds the number of documents collected for one family.
	DefaultMaxFamily = 10000
)

var (
	// ErrNotFound is returned when a start id is not in the candidate set.
	ErrNotFound = errors.New("document not found")
	// ErrTooDeep is returned when the upward walk exceeds the depth guard.
	ErrTooDeep = errors.New("lineage too deep / possible cycle")
	// ErrDanglingParent is returned when a parent id is not in the candidate set.
	ErrDanglingParent = errors.New("parent reference does not resolve")
	// ErrFamilyTooLarge is returned when a family exceeds the fan-out guard.
	ErrFamilyTooLarge = errors.New("family exceeds size guard")
	// ErrFamilyMismatch is returned when two documents have different roots.
	ErrFamilyMismatch = errors.New("documents belong to different families")
)

// AmbiguousLatestError is returned when a family has more than one
// childless member, which happens when two edits branch from the same
// reference version.
type AmbiguousLatestError struct {
	RootID     string
	Candidates []*document.Document
}

func (e *AmbiguousLatestError) Error() string {
	labels := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		labels[i] = fmt.Sprintf("%s(%s)", c.ID, version.Format(c.Version))
	}
	return fmt.Sprintf("family %s has %d latest candidates: %s",
		e.RootID, len(e.Candidates), strings.Join(labels, ", "))
}

// Resolver walks parent references over an in-memory candidate set. The
// caller supplies every document that may belong to a family, typically
// all documents of one organization.
type Resolver struct {
	MaxDepth  int // upward traversal guard
	MaxFamily int // downward fan-out guard
}

// NewResolver returns a resolver with the default guards.
func NewResolver() *Resolver {
	return &Resolver{MaxDepth: DefaultMaxDepth, MaxFamily: DefaultMaxFamily}
}

func (r *Resolver) maxDepth() int {
	if r == nil || r.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return r.MaxDepth
}

func (r *Resolver) maxFamily() int {
	if r == nil || r.MaxFamily <= 0 {
		return DefaultMaxFamily
	}
	return r.MaxFamily
}

func index(docs []*document.Document) map[string]*document.Document {
	byID := make(map[string]*document.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return byID
}

// SameFamily returns nil when a and b resolve to the same root.
func (r *Resolver) SameFamily(a, b string, docs []*document.Document) error {
	rootA, err := r.FindRoot(a, docs)
	if err != nil {
		return err
	}
	rootB, err := r.FindRoot(b, docs)
	if err != nil {
		return err
	}
	if rootA != rootB {
		return fmt.Errorf("%w: %s (root %s) and %s (root %s)", ErrFamilyMismatch, a, rootA, b, rootB)
	}
	return nil
}

// FindRoot walks ParentID upward from id until it reaches a root.
func (r *Resolver) FindRoot(id string, docs []*document.Document) (string, error) {
	byID := index(docs)

	cur, ok := byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for depth := 0; ; depth++ {
		if cur.IsRoot() {
			return cur.ID, nil
		}
		if depth >= r.maxDepth() {
			return "", fmt.Errorf("%w: exceeded %d levels from %s", ErrTooDeep, r.maxDepth(), id)
		}
		parent, ok := byID[cur.Parent()]
		if !ok {
			return "", fmt.Errorf("%w: %s -> %s", ErrDanglingParent, cur.ID, cur.Parent())
		}
		cur = parent
	}
}

// CollectFamily returns the root plus all of its transitive descendants.
func (r *Resolver) CollectFamily(rootID string, docs []*document.Document) ([]*document.Document, error) {
	byID := index(docs)
	root, ok := byID[rootID]
	if !ok {
		return nil, fmt.Errorf("%w: root %s", ErrNotFound, rootID)
	}

	children := make(map[string][]*document.Document)
	for _, d := range docs {
		if !d.IsRoot() {
			children[d.Parent()] = append(children[d.Parent()], d)
		}
	}

	family := []*document.Document{root}
	seen := map[string]bool{root.ID: true}
	frontier := []string{root.ID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, c := range children[id] {
				if seen[c.ID] {
					continue
				}
				seen[c.ID] = true
				family = append(family, c)
				next = append(next, c.ID)
			}
		}
		if len(family) > r.maxFamily() {
			return nil, fmt.Errorf("%w: more than %d members under %s", ErrFamilyTooLarge, r.maxFamily(), rootID)
		}
		frontier = next
	}

	return family, nil
}

// History returns the family containing id, sorted by version ascending.
func (r *Resolver) History(id string, docs []*document.Document) ([]*document.Document, error) {
	rootID, err := r.FindRoot(id, docs)
	if err != nil {
		return nil, err
	}
	family, err := r.CollectFamily(rootID, docs)
	if err != nil {
		return nil, err
	}
	SortByVersion(family)
	return family, nil
}

// IsLatest reports whether no document in docs names doc as its parent.
func IsLatest(doc *document.Document, docs []*document.Document) bool {
	for _, d := range docs {
		if !d.IsRoot() && d.Parent() == doc.ID {
			return false
		}
	}
	return true
}

// FindLatest returns the family member with the highest version number.
// Under branching this can differ from the childless members.
func (r *Resolver) FindLatest(docs []*document.Document, rootID string) (*document.Document, error) {
	family, err := r.CollectFamily(rootID, docs)
	if err != nil {
		return nil, err
	}

	latest := family[0]
	for _, d := range family[1:] {
		if version.Compare(d.Version, latest.Version) > 0 {
			latest = d
		}
	}
	return latest, nil
}

// LatestCandidates returns every childless member of the family rooted at
// rootID, sorted by version.
func (r *Resolver) LatestCandidates(docs []*document.Document, rootID string) ([]*document.Document, error) {
	family, err := r.CollectFamily(rootID, docs)
	if err != nil {
		return nil, err
	}

	var out []*document.Document
	for _, d := range family {
		if IsLatest(d, family) {
			out = append(out, d)
		}
	}
	SortByVersion(out)
	return out, nil
}

// Tip resolves the single live tip of the family containing id. A
// branched family yields an *AmbiguousLatestError.
func (r *Resolver) Tip(id string, docs []*document.Document) (*document.Document, error) {
	rootID, err := r.FindRoot(id, docs)
	if err != nil {
		return nil, err
	}
	candidates, err := r.LatestCandidates(docs, rootID)
	if err != nil {
		return nil, err
	}
	if len(candidates) != 1 {
		return nil, &AmbiguousLatestError{RootID: rootID, Candidates: candidates}
	}
	return candidates[0], nil
}

// Family summarises one lineage for list views.
type Family struct {
	Root       *document.Document
	Latest     *document.Document   // highest version
	Candidates []*document.Document // childless members, more than one when branched
	Size       int
}

// Branched reports whether the family has more than one latest candidate.
func (f *Family) Branched() bool {
	return len(f.Candidates) > 1
}

// Families groups docs by root. Members whose lineage cannot be resolved
// are skipped and reported through the returned error slice.
func (r *Resolver) Families(docs []*document.Document) ([]*Family, []error) {
	var (
		out  []*Family
		errs []error
	)
	for _, d := range docs {
		if !d.IsRoot() {
			continue
		}
		family, err := r.CollectFamily(d.ID, docs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f := &Family{Root: d, Size: len(family), Latest: family[0]}
		for _, m := range family {
			if version.Compare(m.Version, f.Latest.Version) > 0 {
				f.Latest = m
			}
			if IsLatest(m, family) {
				f.Candidates = append(f.Candidates, m)
			}
		}
		SortByVersion(f.Candidates)
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Latest.CreatedAt.After(out[j].Latest.CreatedAt)
	})
	return out, errs
}

// SortByVersion orders docs by version, then creation time, then id.
func SortByVersion(docs []*document.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if c := version.Compare(docs[i].Version, docs[j].Version); c != 0 {
			return c < 0
		}
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
