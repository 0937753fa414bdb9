package rpc

import (
	"context"
	"database/sql"
	"time"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// NodeInfo is one node in a ListNodes answer, enriched with the alias the
// legacy protocol never carries.
type NodeInfo struct {
	Uid         uint64    `json:"uid"`
	NumID       uint32    `json:"num_id"`
	Type        string    `json:"type"`
	Alias       string    `json:"alias,omitempty"`
	Port        uint16    `json:"port"`
	LastContact time.Time `json:"last_contact"`
}

type ListNodesRequest struct {
	NodeType string `json:"node_type"`
}

type ListNodesResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// ListNodes answers the full catalog of nodes of one type, the
// structured-surface counterpart to the legacy GetNodes message.
func (s *Service) ListNodes(ctx context.Context, req *ListNodesRequest) (*ListNodesResponse, error) {
	nodeType := types.NodeType(req.NodeType)
	out, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]NodeInfo, error) {
		nodes, err := store.ListNodesByType(tx, nodeType)
		if err != nil {
			return nil, err
		}
		infos := make([]NodeInfo, 0, len(nodes))
		for _, n := range nodes {
			alias, err := store.GetAliasForUid(tx, n.Uid)
			if err != nil {
				return nil, err
			}
			infos = append(infos, NodeInfo{
				Uid: uint64(n.Uid), NumID: n.NumID, Type: string(n.Type),
				Alias: alias, Port: n.Port, LastContact: n.LastContact,
			})
		}
		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	return &ListNodesResponse{Nodes: out}, nil
}

type SetAliasRequest struct {
	Ref   EntityRef `json:"ref"`
	Kind  string    `json:"kind"`
	Alias string    `json:"alias"`
}

type SetAliasResponse struct{}

// SetAlias assigns or renames ref's alias. Uniqueness is enforced by the
// aliases table's primary key; a collision surfaces as Conflict.
func (s *Service) SetAlias(ctx context.Context, req *SetAliasRequest) (*SetAliasResponse, error) {
	kind := types.EntityKind(req.Kind)
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		uid, err := Resolve(tx, req.Ref, kind)
		if err != nil {
			return struct{}{}, err
		}
		existing, err := store.GetAliasForUid(tx, uid)
		if err != nil {
			return struct{}{}, err
		}
		if existing == "" {
			return struct{}{}, store.InsertAlias(tx, uid, kind, req.Alias)
		}
		return struct{}{}, store.RenameAlias(tx, uid, req.Alias)
	})
	if err != nil {
		return nil, err
	}
	return &SetAliasResponse{}, nil
}

type DeleteNodeRequest struct {
	Ref EntityRef `json:"ref"`
}

type DeleteNodeResponse struct{}

// DeleteNode removes a server node, refusing when it still owns targets.
// Unlike the legacy RemoveNode message (client removals only, no
// precondition checks), this path is how an operator retires a meta or
// storage node: every one of its targets must already be gone, which in
// turn means none of them can be root-owning or buddy-grouped, since
// DeleteTarget enforces those same invariants one level down.
func (s *Service) DeleteNode(ctx context.Context, req *DeleteNodeRequest) (*DeleteNodeResponse, error) {
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		uid, err := Resolve(tx, req.Ref, types.EntityNode)
		if err != nil {
			return struct{}{}, err
		}

		var owned int
		for _, nt := range []types.NodeType{types.NodeMeta, types.NodeStorage} {
			targets, err := store.ListTargetsByType(tx, nt)
			if err != nil {
				return struct{}{}, err
			}
			for _, t := range targets {
				if t.NodeUid == uid {
					owned++
				}
			}
		}
		if owned > 0 {
			return struct{}{}, mgmterr.Newf(mgmterr.Conflict, "node still owns %d target(s); delete them first", owned)
		}

		return struct{}{}, store.DeleteNode(tx, uid)
	})
	if err != nil {
		return nil, err
	}
	return &DeleteNodeResponse{}, nil
}
