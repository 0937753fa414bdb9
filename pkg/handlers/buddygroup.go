package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// SetMirrorBuddyGroup pairs two same-type, ungrouped targets into a new
// mirror buddy group, or (GroupID != 0 and already present) is a no-op
// returning the existing mapping. Storage groups additionally require
// both targets to belong to the same pool.
func SetMirrorBuddyGroup(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeSetMirrorBuddyGroupRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)

	group, err := store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (types.BuddyGroup, error) {
		if req.GroupID != 0 {
			existing, found, err := store.GetBuddyGroupByTypeAndID(tx, nodeType, req.GroupID)
			if err != nil {
				return types.BuddyGroup{}, err
			}
			if found {
				return existing, nil
			}
		}

		primary, found, err := store.GetTargetByTypeAndID(tx, nodeType, req.PrimaryTargetID)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		if !found {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.NotFound, "primary target id %d not found", req.PrimaryTargetID)
		}
		secondary, found, err := store.GetTargetByTypeAndID(tx, nodeType, req.SecondaryTargetID)
		if err != nil {
			return types.BuddyGroup{}, err
		}
		if !found {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.NotFound, "secondary target id %d not found", req.SecondaryTargetID)
		}
		if primary.Uid == secondary.Uid {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Invalid, "a target cannot be mirrored with itself")
		}
		if nodeType == types.NodeStorage && (primary.PoolUid == nil || secondary.PoolUid == nil || *primary.PoolUid != *secondary.PoolUid) {
			return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Invalid, "primary and secondary targets must belong to the same storage pool")
		}

		for _, t := range []types.Target{primary, secondary} {
			grouped, err := store.TargetInBuddyGroup(tx, t.Uid)
			if err != nil {
				return types.BuddyGroup{}, err
			}
			if grouped {
				return types.BuddyGroup{}, mgmterr.Newf(mgmterr.Conflict, "target id %d is already a member of a buddy group", t.TargetID)
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
			groupID, err = lowestFreeUint16(taken)
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
			PrimaryTarget: primary.Uid, SecondaryTarget: secondary.Uid, PoolUid: primary.PoolUid,
		}
		if err := store.InsertBuddyGroup(tx, g); err != nil {
			return types.BuddyGroup{}, err
		}
		return g, nil
	})
	if err != nil {
		return err
	}

	mapping := buddyGroupMapping(group)
	broadcastBuddyGroupMapping(ctx, app, mapping)
	return ch.Reply(wire.MsgSetMirrorBuddyGroupResp, 0, wire.EncodeBuddyGroupMapping(mapping))
}

func buddyGroupMapping(g types.BuddyGroup) wire.BuddyGroupMapping {
	var poolUid uint64
	if g.PoolUid != nil {
		poolUid = uint64(*g.PoolUid)
	}
	return wire.BuddyGroupMapping{
		GroupUid: uint64(g.Uid), GroupID: g.GroupID, NodeType: string(g.Type),
		PrimaryUid: uint64(g.PrimaryTarget), SecondaryUid: uint64(g.SecondaryTarget), PoolUid: poolUid,
	}
}

// broadcastBuddyGroupMapping announces a new or changed group mapping to
// every meta, storage, and client node, reusing SetMirrorBuddyGroupResp's
// schema as the notification payload the same way the switchover engine
// does for a promotion.
func broadcastBuddyGroupMapping(ctx context.Context, app *Context, mapping wire.BuddyGroupMapping) {
	uids, err := uidsOfTypes(ctx, app, []types.NodeType{types.NodeMeta, types.NodeStorage, types.NodeClient})
	if err != nil {
		app.Logger.Warn().Err(err).Msg("failed to load buddy group broadcast audience")
		return
	}
	if err := app.Pool.BroadcastDatagram(uids, wire.MsgSetMirrorBuddyGroupResp, 0, wire.EncodeBuddyGroupMapping(mapping)); err != nil {
		app.Logger.Warn().Err(err).Msg("failed to broadcast buddy group mapping")
	}
}

// GetMirrorBuddyGroups answers a catalog request for every buddy group of
// a type.
func GetMirrorBuddyGroups(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeGetMirrorBuddyGroupsRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)

	mappings, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) ([]wire.BuddyGroupMapping, error) {
		groups, err := store.ListBuddyGroupsByType(tx, nodeType)
		if err != nil {
			return nil, err
		}
		out := make([]wire.BuddyGroupMapping, 0, len(groups))
		for _, g := range groups {
			out = append(out, buddyGroupMapping(g))
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgGetMirrorBuddyGroupsResp, 0, wire.EncodeGetMirrorBuddyGroupsResponse(wire.GetMirrorBuddyGroupsResponse{Groups: mappings}))
}

// GetStatesAndBuddyGroups answers the combined query clients and server
// nodes poll for the full current topology: every group's target mapping
// plus every target's reachability and consistency state. The requester's
// own client num_id rides along in the request body, which is what lets
// this mark the requester as having observed the current topology for
// pre-shutdown drain accounting.
func GetStatesAndBuddyGroups(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeGetStatesAndBuddyGroupsRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)
	timeout := app.Static.Config.NodeOfflineTimeout

	type loaded struct {
		groups  []types.BuddyGroup
		targets []types.Target
		nodes   map[types.Uid]types.Node
	}
	res, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) (loaded, error) {
		groups, err := store.ListBuddyGroupsByType(tx, nodeType)
		if err != nil {
			return loaded{}, err
		}
		targets, err := store.ListTargetsByType(tx, nodeType)
		if err != nil {
			return loaded{}, err
		}
		nodes, err := store.ListNodesByType(tx, nodeType)
		if err != nil {
			return loaded{}, err
		}
		byUid := make(map[types.Uid]types.Node, len(nodes))
		for _, n := range nodes {
			byUid[n.Uid] = n
		}
		return loaded{groups: groups, targets: targets, nodes: byUid}, nil
	})
	if err != nil {
		return err
	}

	targetIDByUid := make(map[types.Uid]uint16, len(res.targets))
	for _, t := range res.targets {
		targetIDByUid[t.Uid] = t.TargetID
	}

	groups := make([]wire.BuddyGroupTargets, 0, len(res.groups))
	for _, g := range res.groups {
		groups = append(groups, wire.BuddyGroupTargets{
			GroupID: g.GroupID, PrimaryTargetID: targetIDByUid[g.PrimaryTarget], SecondaryTargetID: targetIDByUid[g.SecondaryTarget],
		})
	}

	now := time.Now()
	states := make([]wire.TargetState, 0, len(res.targets))
	for _, t := range res.targets {
		lastContact := t.LastContact
		if node, ok := res.nodes[t.NodeUid]; ok {
			lastContact = node.LastContact
		}
		states = append(states, wire.TargetState{
			TargetID: t.TargetID, Consistency: string(t.Consistency),
			Reachability: reachabilityState(lastContact, now, timeout),
		})
	}

	if nodeType == types.NodeClient {
		app.Logger.Warn().Msg("GetStatesAndBuddyGroups requested for node_type Client, which has no targets of its own")
	}
	if req.RequestedByClientNumID != 0 {
		if client, found, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) (types.Node, bool, error) {
			return store.GetNodeByTypeAndNumID(tx, types.NodeClient, req.RequestedByClientNumID)
		}); err == nil && found {
			app.Pulled.MarkPulled(client.Uid)
		}
	}

	return ch.Reply(wire.MsgGetStatesAndBuddyGroupsResp, 0, wire.EncodeGetStatesAndBuddyGroupsResponse(wire.GetStatesAndBuddyGroupsResponse{
		Groups: groups, States: states,
	}))
}

// RemoveBuddyGroup deletes a storage buddy group, the only type the
// legacy protocol actually supports removing despite carrying a
// node_type field.
func RemoveBuddyGroup(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeRemoveBuddyGroupRequest(body)
	if err != nil {
		return err
	}
	if types.NodeType(req.NodeType) != types.NodeStorage {
		return mgmterr.Newf(mgmterr.Invalid, "only storage buddy groups can be removed")
	}

	_, err = store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (struct{}, error) {
		g, found, err := store.GetBuddyGroupByTypeAndID(tx, types.NodeStorage, req.GroupID)
		if err != nil {
			return struct{}{}, err
		}
		if !found {
			return struct{}{}, mgmterr.Newf(mgmterr.NotFound, "storage buddy group id %d not found", req.GroupID)
		}
		return struct{}{}, store.DeleteBuddyGroup(tx, g.Uid)
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgRemoveBuddyGroupResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}
