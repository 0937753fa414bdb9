package rpc

import (
	"context"
	"database/sql"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

type BuddyGroupInfo struct {
	Uid          uint64 `json:"uid"`
	GroupID      uint16 `json:"group_id"`
	Type         string `json:"type"`
	PrimaryUid   uint64 `json:"primary_uid"`
	SecondaryUid uint64 `json:"secondary_uid"`
	PoolUid      uint64 `json:"pool_uid,omitempty"`
}

type ListBuddyGroupsRequest struct {
	NodeType string `json:"node_type"`
}

type ListBuddyGroupsResponse struct {
	Groups []BuddyGroupInfo `json:"groups"`
}

// ListBuddyGroups answers every buddy group of a node type.
func (s *Service) ListBuddyGroups(ctx context.Context, req *ListBuddyGroupsRequest) (*ListBuddyGroupsResponse, error) {
	groups, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]types.BuddyGroup, error) {
		return store.ListBuddyGroupsByType(tx, types.NodeType(req.NodeType))
	})
	if err != nil {
		return nil, err
	}
	out := make([]BuddyGroupInfo, 0, len(groups))
	for _, g := range groups {
		info := BuddyGroupInfo{
			Uid: uint64(g.Uid), GroupID: g.GroupID, Type: string(g.Type),
			PrimaryUid: uint64(g.PrimaryTarget), SecondaryUid: uint64(g.SecondaryTarget),
		}
		if g.PoolUid != nil {
			info.PoolUid = uint64(*g.PoolUid)
		}
		out = append(out, info)
	}
	return &ListBuddyGroupsResponse{Groups: out}, nil
}

type CreateBuddyGroupRequest struct {
	NodeType  string    `json:"node_type"`
	GroupID   uint16    `json:"group_id,omitempty"`
	Primary   EntityRef `json:"primary"`
	Secondary EntityRef `json:"secondary"`
}

type CreateBuddyGroupResponse struct {
	Uid     uint64 `json:"uid"`
	GroupID uint16 `json:"group_id"`
}

// CreateBuddyGroup pairs two same-type, ungrouped targets resolved from
// EntityRef rather than raw target ids, otherwise enforcing the same
// invariants as the legacy SetMirrorBuddyGroup handler (no self-pairing,
// same pool for storage groups, neither target already grouped).
func (s *Service) CreateBuddyGroup(ctx context.Context, req *CreateBuddyGroupRequest) (*CreateBuddyGroupResponse, error) {
	nodeType := types.NodeType(req.NodeType)
	group, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (types.BuddyGroup, error) {
		primaryUid, err := Resolve(tx, req.Primary, types.EntityTarget)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		secondaryUid, err := Resolve(tx, req.Secondary, types.EntityTarget)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		if primaryUid == secondaryUid {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Invalid, "a target cannot be mirrored with itself")
		}

		primary, err := store.GetTargetByUid(tx, primaryUid)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		secondary, err := store.GetTargetByUid(tx, secondaryUid)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		if nodeType == types.NodeStorage && (primary.PoolUid == nil || secondary.PoolUid == nil || *primary.PoolUid != *secondary.PoolUid) {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Invalid, "primary and secondary targets must belong to the same storage pool")
		}

		for _, uid := range []types.Uid{primaryUid, secondaryUid} {
			grouped, err := store.TargetInBuddyGroup(tx, uid)
			if err != nil {
				return types.BuddyGroup{}, err
			}
			if grouped {
				return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Conflict, "target uid %d is already a member of a buddy group", uid)
			}
		}

		groupID := req.GroupID
		if groupID == 0 {
			groups, err := store.ListBuddyGroupsByType(tx, nodeType)
			if err != nil {
				return types.BuddyGroup{}, err
			}
			taken := make(map[uint16]bool, len(groups))
			for _, g := range groups {
				taken[g.GroupID] = true
			}
			groupID, err = lowestFreeID(taken)
			if err != nil {
				return types.BuddyGroup{}, err
			}
		}

		groupUid, err := store.NextUid(tx)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		g := types.BuddyGroup{
			Uid: groupUid, GroupID: groupID, Type: nodeType,
			PrimaryTarget: primaryUid, SecondaryTarget: secondaryUid, PoolUid: primary.PoolUid,
		}
		return g, store.InsertBuddyGroup(tx, g)
	})
	if err != nil {
		return nil, err
	}

	s.broadcastBuddyGroup(ctx, group)
	return &CreateBuddyGroupResponse{Uid: uint64(group.Uid), GroupID: group.GroupID}, nil
}

func (s *Service) broadcastBuddyGroup(ctx context.Context, g types.BuddyGroup) {
	var poolUid uint64
	if g.PoolUid != nil {
		poolUid = uint64(*g.PoolUid)
	}
	mapping := wire.BuddyGroupMapping{
		GroupUid: uint64(g.Uid), GroupID: g.GroupID, NodeType: string(g.Type),
		PrimaryUid: uint64(g.PrimaryTarget), SecondaryUid: uint64(g.SecondaryTarget), PoolUid: poolUid,
	}
	uids, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]types.Uid, error) {
		var out []types.Uid
		for _, nt := range []types.NodeType{types.NodeMeta, types.NodeStorage, types.NodeClient} {
			nodes, err := store.ListNodesByType(tx, nt)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				out = append(out, n.Uid)
			}
		}
		return out, nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load buddy group broadcast audience")
		return
	}
	if err := s.pool.BroadcastDatagram(uids, wire.MsgSetMirrorBuddyGroupResp, 0, wire.EncodeBuddyGroupMapping(mapping)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to broadcast buddy group mapping")
	}
}

type DeleteBuddyGroupRequest struct {
	Ref    EntityRef `json:"ref"`
	DryRun bool      `json:"dry_run,omitempty"`
}

type DeleteBuddyGroupResponse struct {
	WouldSucceed bool `json:"would_succeed,omitempty"`
}

// DeleteBuddyGroup removes a buddy group as two bracketed transactions: a
// first, read-only pass validates the group is not the filesystem root,
// its member nodes are then notified the group is about to go away, and
// a second transaction commits the deletion. DryRun stops after the
// validation pass and reports whether the deletion would have succeeded,
// committing nothing and notifying no one.
func (s *Service) DeleteBuddyGroup(ctx context.Context, req *DeleteBuddyGroupRequest) (*DeleteBuddyGroupResponse, error) {
	group, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.BuddyGroup, error) {
		uid, err := Resolve(tx, req.Ref, types.EntityBuddyGroup)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		g, err := store.GetBuddyGroupByUid(tx, uid)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		root, err := store.GetRootInode(tx)
		if err != nil && !mgmterr.Is(err, mgmterr.NotFound) {
			return types.BuddyGroup{}, err
		}
		if err == nil && root.OwnerKind == types.RootOwnedByBuddyGroup && root.OwnerUid == g.Uid {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Conflict, "buddy group uid %d roots the filesystem and cannot be removed", g.Uid)
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}

	if req.DryRun {
		return &DeleteBuddyGroupResponse{WouldSucceed: true}, nil
	}

	s.broadcastGroupPreRemoval(ctx, group)

	if _, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, store.DeleteBuddyGroup(tx, group.Uid)
	}); err != nil {
		return nil, err
	}

	return &DeleteBuddyGroupResponse{}, nil
}

// broadcastGroupPreRemoval tells the group's own member nodes removal is
// imminent, the "bracketing peer RPC" the two-phase delete is named for;
// best-effort, since a node that misses it still picks up the absence of
// the group on its next GetStatesAndBuddyGroups poll.
func (s *Service) broadcastGroupPreRemoval(ctx context.Context, g types.BuddyGroup) {
	primary, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Target, error) {
		return store.GetTargetByUid(tx, g.PrimaryTarget)
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to resolve buddy group primary before removal")
		return
	}
	secondary, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Target, error) {
		return store.GetTargetByUid(tx, g.SecondaryTarget)
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to resolve buddy group secondary before removal")
		return
	}
	body := wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess})
	if err := s.pool.BroadcastDatagram([]types.Uid{primary.NodeUid, secondary.NodeUid}, wire.MsgRemoveBuddyGroupResp, 0, body); err != nil {
		s.logger.Warn().Err(err).Msg("failed to notify buddy group members before removal")
	}
}

type MirrorRootInodeRequest struct {
	OwnerKind string    `json:"owner_kind"` // "Target" or "BuddyGroup"
	Ref       EntityRef `json:"ref"`
}

type MirrorRootInodeResponse struct{}

// MirrorRootInode assigns which meta target or meta buddy group owns the
// filesystem root.
func (s *Service) MirrorRootInode(ctx context.Context, req *MirrorRootInodeRequest) (*MirrorRootInodeResponse, error) {
	ownerKind := types.RootOwnerKind(req.OwnerKind)
	var entityKind types.EntityKind
	switch ownerKind {
	case types.RootOwnedByTarget:
		entityKind = types.EntityTarget
	case types.RootOwnedByBuddyGroup:
		entityKind = types.EntityBuddyGroup
	default:
		return nil, mgmterr.Newf(mgmterr.Invalid, "owner_kind must be %q or %q", types.RootOwnedByTarget, types.RootOwnedByBuddyGroup)
	}

	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		uid, err := Resolve(tx, req.Ref, entityKind)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, store.SetRootInode(tx, types.RootInode{OwnerKind: ownerKind, OwnerUid: uid})
	})
	if err != nil {
		return nil, err
	}
	return &MirrorRootInodeResponse{}, nil
}
