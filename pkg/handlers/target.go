package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/beegfs-io/mgmtd/pkg/capacity"
	"github.com/beegfs-io/mgmtd/pkg/config"
	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// targetStateAudience is notified whenever a target's consistency state
// changes, regardless of which node type owns the target.
var targetStateAudience = []types.NodeType{types.NodeMeta, types.NodeStorage, types.NodeClient}

// RegisterTarget creates a storage target, optionally honoring a
// caller-requested target id. Meta targets never go through this path:
// they are created implicitly alongside their owning meta node, since a
// meta target's id is always its node's num_id.
func RegisterTarget(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeRegisterTargetRequest(body)
	if err != nil {
		return err
	}
	if types.NodeType(req.NodeType) != types.NodeStorage {
		return mgmterr.Newf(mgmterr.Invalid, "only storage targets can be registered directly; meta targets are created with their node")
	}

	targetID, err := store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (uint16, error) {
		node, found, err := store.GetNodeByTypeAndNumID(tx, types.NodeStorage, req.NodeNumID)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, mgmterr.Newf(mgmterr.NotFound, "storage node num_id %d not found", req.NodeNumID)
		}

		if req.TargetID != 0 {
			existing, found, err := store.GetTargetByTypeAndID(tx, types.NodeStorage, req.TargetID)
			if err != nil {
				return 0, err
			}
			if found {
				if existing.NodeUid != node.Uid {
					return 0, mgmterr.Newf(mgmterr.Conflict, "target id %d is already registered to a different node", req.TargetID)
				}
				return existing.TargetID, nil
			}
		}

		targetID := req.TargetID
		if targetID == 0 {
			targets, err := store.ListTargetsByType(tx, types.NodeStorage)
			if err != nil {
				return 0, err
			}
			taken := make(map[uint16]bool, len(targets))
			for _, t := range targets {
				taken[t.TargetID] = true
			}
			targetID, err = lowestFreeUint16(taken)
			if err != nil {
				return 0, err
			}
		}

		poolUid, err := store.EnsureDefaultPool(tx)
		if err != nil {
			return 0, err
		}
		targetUid, err := store.NextUid(tx)
		if err != nil {
			return 0, err
		}
		if err := store.InsertTarget(tx, types.Target{
			Uid: targetUid, TargetID: targetID, Type: types.NodeStorage, NodeUid: node.Uid,
			PoolUid: &poolUid, Consistency: types.ConsistencyGood, LastContact: time.Now(),
		}); err != nil {
			return 0, err
		}
		return targetID, nil
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgRegisterTargetResp, 0, wire.EncodeRegisterTargetResponse(wire.RegisterTargetResponse{
		AssignedTargetID: targetID, Result: wire.ResultSuccess,
	}))
}

// SetStorageTargetInfo applies a batch of capacity and consistency reports
// from a storage node. A report naming an unknown target id is logged and
// skipped rather than failing the whole batch. No capacity-pool-refresh
// broadcast happens here: nodes poll GetNodeCapacityPools on their own
// interval.
func SetStorageTargetInfo(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeSetStorageTargetInfoRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)

	_, err = store.WriteTxNoSync(ctx, app.Store, func(tx *sql.Tx) (struct{}, error) {
		for _, report := range req.Targets {
			target, found, err := store.GetTargetByTypeAndID(tx, nodeType, report.TargetID)
			if err != nil {
				return struct{}{}, err
			}
			if !found {
				app.Logger.Warn().Uint16("target_id", report.TargetID).Msg("capacity report for unknown target ignored")
				continue
			}
			capacities := types.Capacities{
				TotalSpace: report.TotalSpace, FreeSpace: report.FreeSpace,
				TotalInodes: report.TotalInodes, FreeInodes: report.FreeInodes,
			}
			if err := store.UpdateTargetCapacities(tx, target.Uid, capacities, types.ConsistencyState(report.Consistency)); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgSetStorageTargetInfoResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}

// SetTargetConsistencyStates applies caller-reported consistency states
// wholesale; when set_online is true it also refreshes the owning nodes'
// last-contact timestamp. Unlike ChangeTargetConsistencyStates, the
// RefreshTargetStates broadcast always fires, whether or not any target's
// state actually changed.
func SetTargetConsistencyStates(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeSetTargetConsistencyStatesRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)
	now := time.Now()

	_, err = store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (struct{}, error) {
		for _, tc := range req.Targets {
			target, found, err := store.GetTargetByTypeAndID(tx, nodeType, tc.TargetID)
			if err != nil {
				return struct{}{}, err
			}
			if !found {
				return struct{}{}, mgmterr.Newf(mgmterr.NotFound, "target id %d not found", tc.TargetID)
			}
			if req.SetOnline {
				if err := store.UpdateNodeContact(tx, target.NodeUid, now); err != nil {
					return struct{}{}, err
				}
			}
			if _, err := store.SetTargetConsistency(tx, target.Uid, types.ConsistencyState(tc.Consistency)); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	broadcastRefreshTargetStates(ctx, app)
	return ch.Reply(wire.MsgSetTargetConsistencyStatesResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}

// ChangeTargetConsistencyStates is management asserting authoritative
// consistency states onto nodes: whatever a node thought its own prior
// state was does not matter, so the request carries no old-state to
// validate against. Unlike SetTargetConsistencyStates it always refreshes
// the owning nodes' last-contact timestamp, and only broadcasts
// RefreshTargetStates if at least one target's state actually changed.
func ChangeTargetConsistencyStates(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeSetTargetConsistencyStatesRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)
	now := time.Now()

	affected, err := store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (int, error) {
		n := 0
		for _, tc := range req.Targets {
			target, found, err := store.GetTargetByTypeAndID(tx, nodeType, tc.TargetID)
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, mgmterr.Newf(mgmterr.NotFound, "target id %d not found", tc.TargetID)
			}
			if err := store.UpdateNodeContact(tx, target.NodeUid, now); err != nil {
				return 0, err
			}
			changed, err := store.SetTargetConsistency(tx, target.Uid, types.ConsistencyState(tc.Consistency))
			if err != nil {
				return 0, err
			}
			if changed {
				n++
			}
		}
		return n, nil
	})
	if err != nil {
		return err
	}

	if affected > 0 {
		broadcastRefreshTargetStates(ctx, app)
	}
	return ch.Reply(wire.MsgChangeTargetConsistencyStatesResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}

func broadcastRefreshTargetStates(ctx context.Context, app *Context) {
	uids, err := uidsOfTypes(ctx, app, targetStateAudience)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("failed to load target-state broadcast audience")
		return
	}
	if err := app.Pool.BroadcastDatagram(uids, wire.MsgRefreshTargetStates, 0, nil); err != nil {
		app.Logger.Warn().Err(err).Msg("failed to broadcast refresh target states")
	}
}

// GetTargetStates reports each target's management-tracked consistency
// state alongside a reachability state derived from its owning node's
// last contact time; the target's own last_contact column only records
// when it was created, so reachability is computed from the node
// whenever the owning node is found.
func GetTargetStates(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeGetTargetStatesRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)
	timeout := app.Static.Config.NodeOfflineTimeout

	type pair struct {
		targets []types.Target
		nodes   map[types.Uid]types.Node
	}
	loaded, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) (pair, error) {
		targets, err := store.ListTargetsByType(tx, nodeType)
		if err != nil {
			return pair{}, err
		}
		nodes, err := store.ListNodesByType(tx, nodeType)
		if err != nil {
			return pair{}, err
		}
		byUid := make(map[types.Uid]types.Node, len(nodes))
		for _, n := range nodes {
			byUid[n.Uid] = n
		}
		return pair{targets: targets, nodes: byUid}, nil
	})
	if err != nil {
		return err
	}

	now := time.Now()
	out := make([]wire.TargetState, 0, len(loaded.targets))
	for _, t := range loaded.targets {
		lastContact := t.LastContact
		if node, ok := loaded.nodes[t.NodeUid]; ok {
			lastContact = node.LastContact
		}
		out = append(out, wire.TargetState{
			TargetID:     t.TargetID,
			Consistency:  string(t.Consistency),
			Reachability: reachabilityState(lastContact, now, timeout),
		})
	}
	return ch.Reply(wire.MsgGetTargetStatesResp, 0, wire.EncodeGetTargetStatesResponse(wire.GetTargetStatesResponse{Targets: out}))
}

// reachabilityState classifies a target's owning node as Online,
// ProbablyOffline, or Offline from its last contact time, halving the
// configured offline timeout for the intermediate warning state.
func reachabilityState(lastContact, now time.Time, timeout time.Duration) string {
	if timeout <= 0 {
		return "Online"
	}
	elapsed := now.Sub(lastContact)
	switch {
	case elapsed < timeout/2:
		return "Online"
	case elapsed < timeout:
		return "ProbablyOffline"
	default:
		return "Offline"
	}
}

// capacitySample reduces a target's reported capacities to the pair the
// classifier consumes.
func capacitySample(t types.Target) capacity.Sample {
	return capacity.Sample{FreeSpace: t.Capacities.FreeSpace, FreeInodes: t.Capacities.FreeInodes}
}

// dynamicLimits converts a config dynamic-capacity record into the
// classifier's DynamicLimits, returning nil when the pool has no dynamic
// calibration configured so Classify falls back to static thresholds.
func dynamicLimits(d *config.DynamicCapacityLimits) *capacity.DynamicLimits {
	if d == nil {
		return nil
	}
	return &capacity.DynamicLimits{
		SpaceLow:              d.LowSpace,
		SpaceEmergency:        d.EmergencySpace,
		InodesLow:             d.LowInodes,
		InodesEmergency:       d.EmergencyInodes,
		SpaceNormalThreshold:  d.SpaceNormalThreshold,
		SpaceLowThreshold:     d.SpaceLowThreshold,
		InodesNormalThreshold: d.InodesNormalThreshold,
		InodesLowThreshold:    d.InodesLowThreshold,
	}
}

// classifyTargets buckets targets into a CapacityPoolSet under limits,
// recalibrating thresholds against the whole population when dyn is set.
func classifyTargets(limits capacity.Limits, dyn *capacity.DynamicLimits, targets []types.Target) wire.CapacityPoolSet {
	samples := make([]capacity.Sample, len(targets))
	for i, t := range targets {
		samples[i] = capacitySample(t)
	}
	var set wire.CapacityPoolSet
	for i, t := range targets {
		switch capacity.Classify(limits, dyn, samples, samples[i]) {
		case types.CapacityNormal:
			set.Normal = append(set.Normal, t.TargetID)
		case types.CapacityLow:
			set.Low = append(set.Low, t.TargetID)
		case types.CapacityEmergency:
			set.Emergency = append(set.Emergency, t.TargetID)
		}
	}
	return set
}

// classifyBuddyGroups buckets buddy groups into a CapacityPoolSet under
// limits, classifying each group by the element-wise minimum of its two
// targets' samples, recalibrating against the whole population when dyn is
// set.
func classifyBuddyGroups(limits capacity.Limits, dyn *capacity.DynamicLimits, groups []types.BuddyGroup, targetByUid map[types.Uid]types.Target) wire.CapacityPoolSet {
	samples := make([]capacity.Sample, len(groups))
	for i, g := range groups {
		samples[i] = capacity.PairMin(capacitySample(targetByUid[g.PrimaryTarget]), capacitySample(targetByUid[g.SecondaryTarget]))
	}
	var set wire.CapacityPoolSet
	for i, g := range groups {
		switch capacity.Classify(limits, dyn, samples, samples[i]) {
		case types.CapacityNormal:
			set.Normal = append(set.Normal, g.GroupID)
		case types.CapacityLow:
			set.Low = append(set.Low, g.GroupID)
		case types.CapacityEmergency:
			set.Emergency = append(set.Emergency, g.GroupID)
		}
	}
	return set
}

// GetNodeCapacityPools classifies every target or buddy group of the
// requested scope into Normal/Low/Emergency buckets. Meta scopes have no
// real storage pools, so they always report a single implicit group with
// PoolID 0; storage scopes report one group per storage pool.
func GetNodeCapacityPools(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeGetNodeCapacityPoolsRequest(body)
	if err != nil {
		return err
	}

	metaLimits := capacity.Limits{
		SpaceLow: app.Static.Config.MetaCapacityLimits.LowSpace, SpaceEmergency: app.Static.Config.MetaCapacityLimits.EmergencySpace,
		InodesLow: app.Static.Config.MetaCapacityLimits.LowInodes, InodesEmergency: app.Static.Config.MetaCapacityLimits.EmergencyInodes,
	}
	storageLimits := capacity.Limits{
		SpaceLow: app.Static.Config.StorageCapacityLimits.LowSpace, SpaceEmergency: app.Static.Config.StorageCapacityLimits.EmergencySpace,
		InodesLow: app.Static.Config.StorageCapacityLimits.LowInodes, InodesEmergency: app.Static.Config.StorageCapacityLimits.EmergencyInodes,
	}
	metaDyn := dynamicLimits(app.Static.Config.MetaCapacityLimits.Dynamic)
	storageDyn := dynamicLimits(app.Static.Config.StorageCapacityLimits.Dynamic)

	groups, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) ([]wire.CapacityPoolGroup, error) {
		switch req.QueryType {
		case "Meta":
			targets, err := store.ListTargetsByType(tx, types.NodeMeta)
			if err != nil {
				return nil, err
			}
			return []wire.CapacityPoolGroup{{PoolID: types.DefaultPoolID, Set: classifyTargets(metaLimits, metaDyn, targets)}}, nil

		case "MetaMirrored":
			targets, err := store.ListTargetsByType(tx, types.NodeMeta)
			if err != nil {
				return nil, err
			}
			byUid := make(map[types.Uid]types.Target, len(targets))
			for _, t := range targets {
				byUid[t.Uid] = t
			}
			bgroups, err := store.ListBuddyGroupsByType(tx, types.NodeMeta)
			if err != nil {
				return nil, err
			}
			return []wire.CapacityPoolGroup{{PoolID: types.DefaultPoolID, Set: classifyBuddyGroups(metaLimits, metaDyn, bgroups, byUid)}}, nil

		case "Storage":
			targets, err := store.ListTargetsByType(tx, types.NodeStorage)
			if err != nil {
				return nil, err
			}
			pools, err := store.ListPools(tx)
			if err != nil {
				return nil, err
			}
			poolIDByUid := make(map[types.Uid]uint16, len(pools))
			for _, p := range pools {
				poolIDByUid[p.Uid] = p.PoolID
			}
			byPool := make(map[types.Uid][]types.Target)
			for _, t := range targets {
				if t.PoolUid == nil {
					continue
				}
				byPool[*t.PoolUid] = append(byPool[*t.PoolUid], t)
			}
			out := make([]wire.CapacityPoolGroup, 0, len(byPool))
			for poolUid, ts := range byPool {
				out = append(out, wire.CapacityPoolGroup{PoolID: poolIDByUid[poolUid], Set: classifyTargets(storageLimits, storageDyn, ts)})
			}
			return out, nil

		case "StorageMirrored":
			targets, err := store.ListTargetsByType(tx, types.NodeStorage)
			if err != nil {
				return nil, err
			}
			byUid := make(map[types.Uid]types.Target, len(targets))
			for _, t := range targets {
				byUid[t.Uid] = t
			}
			pools, err := store.ListPools(tx)
			if err != nil {
				return nil, err
			}
			poolIDByUid := make(map[types.Uid]uint16, len(pools))
			for _, p := range pools {
				poolIDByUid[p.Uid] = p.PoolID
			}
			bgroups, err := store.ListBuddyGroupsByType(tx, types.NodeStorage)
			if err != nil {
				return nil, err
			}
			byPool := make(map[types.Uid][]types.BuddyGroup)
			for _, g := range bgroups {
				if g.PoolUid == nil {
					continue
				}
				byPool[*g.PoolUid] = append(byPool[*g.PoolUid], g)
			}
			out := make([]wire.CapacityPoolGroup, 0, len(byPool))
			for poolUid, gs := range byPool {
				out = append(out, wire.CapacityPoolGroup{PoolID: poolIDByUid[poolUid], Set: classifyBuddyGroups(storageLimits, storageDyn, gs, byUid)})
			}
			return out, nil

		default:
			return nil, mgmterr.Newf(mgmterr.Invalid, "unknown capacity pool query type %q", req.QueryType)
		}
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgGetNodeCapacityPoolsResp, 0, wire.EncodeGetNodeCapacityPoolsResponse(wire.GetNodeCapacityPoolsResponse{Groups: groups}))
}
