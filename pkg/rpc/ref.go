package rpc

import (
	"database/sql"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// LegacyID is the (node_type, num_id) identity pair every pre-existing
// node, target, and buddy group already carries on the wire, offered as
// an alternative to Uid/Alias so legacy-protocol num_ids stay addressable
// from the structured surface.
type LegacyID struct {
	NodeType string `json:"node_type"`
	NumID    uint32 `json:"num_id"`
}

// EntityRef identifies an entity by exactly one of uid, alias, or
// legacy_id. At least one field must be set; Resolve reports
// mgmterr.Invalid otherwise.
type EntityRef struct {
	Uid      *uint64   `json:"uid,omitempty"`
	Alias    *string   `json:"alias,omitempty"`
	LegacyID *LegacyID `json:"legacy_id,omitempty"`
}

// Resolve maps ref to a concrete Uid of the expected kind. A uid field is
// trusted as-is (existence and kind are checked by whatever the caller
// looks up next); an alias is resolved through the shared alias table and
// checked against kind; a legacy_id is resolved through the table that
// kind actually lives in, since num_id is only unique within a
// (node_type, entity-kind) pair.
func Resolve(tx *sql.Tx, ref EntityRef, kind types.EntityKind) (types.Uid, error) {
	switch {
	case ref.Uid != nil:
		return types.Uid(*ref.Uid), nil

	case ref.Alias != nil:
		e, err := store.LookupByAlias(tx, *ref.Alias)
		if err != nil {
			return 0, err
		}
		if e.Kind != kind {
			return 0, mgmterr.Newf(mgmterr.Invalid, "alias %q identifies a %s, not a %s", *ref.Alias, e.Kind, kind)
		}
		return e.Uid, nil

	case ref.LegacyID != nil:
		nodeType := types.NodeType(ref.LegacyID.NodeType)
		switch kind {
		case types.EntityNode:
			n, found, err := store.GetNodeByTypeAndNumID(tx, nodeType, ref.LegacyID.NumID)
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, mgmterr.Newf(mgmterr.NotFound, "node %s:%d not found", nodeType, ref.LegacyID.NumID)
			}
			return n.Uid, nil

		case types.EntityTarget:
			t, found, err := store.GetTargetByTypeAndID(tx, nodeType, uint16(ref.LegacyID.NumID))
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, mgmterr.Newf(mgmterr.NotFound, "target %s:%d not found", nodeType, ref.LegacyID.NumID)
			}
			return t.Uid, nil

		case types.EntityBuddyGroup:
			g, found, err := store.GetBuddyGroupByTypeAndID(tx, nodeType, uint16(ref.LegacyID.NumID))
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, mgmterr.Newf(mgmterr.NotFound, "buddy group %s:%d not found", nodeType, ref.LegacyID.NumID)
			}
			return g.Uid, nil

		case types.EntityPool:
			p, found, err := store.GetPoolByPoolID(tx, uint16(ref.LegacyID.NumID))
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, mgmterr.Newf(mgmterr.NotFound, "pool %d not found", ref.LegacyID.NumID)
			}
			return p.Uid, nil

		default:
			return 0, mgmterr.Newf(mgmterr.Internal, "unresolvable entity kind %s", kind)
		}

	default:
		return 0, mgmterr.Newf(mgmterr.Invalid, "entity ref must set uid, alias, or legacy_id")
	}
}
