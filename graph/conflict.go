package graph

import (
	"errors"
	"fmt"
)

// ConflictKind is the closed set of consolidation conflicts.
type ConflictKind int

const (
	// AliasConflict: an incoming entity name exists under a different type.
	AliasConflict ConflictKind = iota + 1
	// EntityNotFound: a relationship endpoint is in neither the batch nor
	// the store.
	EntityNotFound
	// RelationshipCollision: (A→B) arrives while (B→A) is stored.
	RelationshipCollision
	// RelationshipMergeConflict: a claim for an existing (A→B) was judged
	// to contradict the claims already attached.
	RelationshipMergeConflict
	// DeletionConflict: a deletion target still has dependents.
	DeletionConflict
)

// Kinds lists every conflict kind in declaration order.
var Kinds = []ConflictKind{
	AliasConflict,
	EntityNotFound,
	RelationshipCollision,
	RelationshipMergeConflict,
	DeletionConflict,
}

// Sentinels matched by errors.Is against a *Conflict.
var (
	ErrAliasConflict             = errors.New("alias conflict")
	ErrEntityNotFound            = errors.New("entity not found")
	ErrRelationshipCollision     = errors.New("relationship collision")
	ErrRelationshipMergeConflict = errors.New("relationship merge conflict")
	ErrDeletionConflict          = errors.New("deletion conflict")
)

func (k ConflictKind) String() string {
	switch k {
	case AliasConflict:
		return "AliasConflict"
	case EntityNotFound:
		return "EntityNotFound"
	case RelationshipCollision:
		return "RelationshipCollision"
	case RelationshipMergeConflict:
		return "RelationshipMergeConflict"
	case DeletionConflict:
		return "DeletionConflict"
	default:
		return fmt.Sprintf("ConflictKind(%d)", int(k))
	}
}

// ParseConflictKind is the inverse of String.
func ParseConflictKind(s string) (ConflictKind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown conflict kind %q", s)
}

func (k ConflictKind) sentinel() error {
	switch k {
	case AliasConflict:
		return ErrAliasConflict
	case EntityNotFound:
		return ErrEntityNotFound
	case RelationshipCollision:
		return ErrRelationshipCollision
	case RelationshipMergeConflict:
		return ErrRelationshipMergeConflict
	case DeletionConflict:
		return ErrDeletionConflict
	default:
		return nil
	}
}

// Resolutions recorded on a conflict.
const (
	ResolutionRejected       = "rejected"
	ResolutionHeld           = "held"
	ResolutionStoredBoth     = "stored_both"
	ResolutionAppendDisputed = "appended_disputed"
	ResolutionRefused        = "refused"
)

// Conflict describes one detected conflict: the incoming record, the
// stored state it collided with and what was done about it.
type Conflict struct {
	Kind       ConflictKind
	Record     any
	Existing   any
	Resolution string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("%s (%s): %+v", c.Kind, c.Resolution, c.Record)
}

// Is makes errors.Is(err, ErrAliasConflict) and friends work.
func (c *Conflict) Is(target error) bool {
	s := c.Kind.sentinel()
	return s != nil && target == s
}

// ConflictCounts tallies conflicts by kind.
type ConflictCounts struct {
	Alias          int `json:"alias_conflict"`
	EntityNotFound int `json:"entity_not_found"`
	Collision      int `json:"relationship_collision"`
	MergeConflict  int `json:"relationship_merge_conflict"`
	Deletion       int `json:"deletion_conflict"`
}

// Add counts one conflict of kind k.
func (c *ConflictCounts) Add(k ConflictKind) {
	switch k {
	case AliasConflict:
		c.Alias++
	case EntityNotFound:
		c.EntityNotFound++
	case RelationshipCollision:
		c.Collision++
	case RelationshipMergeConflict:
		c.MergeConflict++
	case DeletionConflict:
		c.Deletion++
	default:
		panic(fmt.Sprintf("graph: unknown conflict kind %d", int(k)))
	}
}

// Get returns the count for kind k.
func (c ConflictCounts) Get(k ConflictKind) int {
	switch k {
	case AliasConflict:
		return c.Alias
	case EntityNotFound:
		return c.EntityNotFound
	case RelationshipCollision:
		return c.Collision
	case RelationshipMergeConflict:
		return c.MergeConflict
	case DeletionConflict:
		return c.Deletion
	default:
		panic(fmt.Sprintf("graph: unknown conflict kind %d", int(k)))
	}
}

// Merge adds o into c.
func (c *ConflictCounts) Merge(o ConflictCounts) {
	c.Alias += o.Alias
	c.EntityNotFound += o.EntityNotFound
	c.Collision += o.Collision
	c.MergeConflict += o.MergeConflict
	c.Deletion += o.Deletion
}

// Total is the sum over all kinds.
func (c ConflictCounts) Total() int {
	return c.Alias + c.EntityNotFound + c.Collision + c.MergeConflict + c.Deletion
}
