package switchover

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/metrics"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// TargetState is the subset of a target's record the promotion decision
// depends on.
type TargetState struct {
	LastContact time.Time
	Consistency types.ConsistencyState
}

// ShouldPromote reports whether the secondary should be promoted to
// primary, evaluated at now against timeout. This is the pure decision
// rule; Engine wires it to the store and the connection pool.
func ShouldPromote(primary, secondary TargetState, timeout time.Duration, now time.Time) bool {
	primaryStale := now.Sub(primary.LastContact) >= timeout || primary.Consistency == types.ConsistencyNeedsResync
	secondaryHealthy := secondary.Consistency == types.ConsistencyGood
	secondaryFresh := now.Sub(secondary.LastContact) < timeout/2
	return primaryStale && secondaryHealthy && secondaryFresh
}

// Engine periodically scans every buddy group and promotes secondaries
// per ShouldPromote, then broadcasts the new mapping.
type Engine struct {
	store   *store.Store
	pool    *connpool.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

// New builds an Engine. timeout is the node-offline timeout from static
// configuration; it drives both the primary staleness check and (halved)
// the secondary freshness check.
func New(s *store.Store, pool *connpool.Pool, timeout time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{store: s, pool: pool, timeout: timeout, logger: logger.With().Str("component", "switchover").Logger()}
}

type promotion struct {
	groupUid  types.Uid
	groupID   uint16
	nodeType  types.NodeType
	poolUid   *types.Uid
	newPrimary, newSecondary types.Uid
}

// RunCycle performs one scan-and-promote pass. It is the function handed
// to pkg/periodic.
func (e *Engine) RunCycle(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SwitchoverCycleDuration)
	now := time.Now()

	var toPromote []promotion
	for _, nodeType := range []types.NodeType{types.NodeMeta, types.NodeStorage} {
		groups, err := store.ReadTx(ctx, e.store, func(tx *sql.Tx) ([]types.BuddyGroup, error) {
			return store.ListBuddyGroupsByType(tx, nodeType)
		})
		if err != nil {
			return err
		}

		for _, g := range groups {
			primary, secondary, ok, err := e.loadMembers(ctx, g)
			if err != nil {
				e.logger.Warn().Err(err).Uint64("group_uid", uint64(g.Uid)).Msg("skipping group: could not load members")
				continue
			}
			if !ok {
				continue
			}

			if ShouldPromote(
				TargetState{LastContact: primary.LastContact, Consistency: primary.Consistency},
				TargetState{LastContact: secondary.LastContact, Consistency: secondary.Consistency},
				e.timeout, now,
			) {
				toPromote = append(toPromote, promotion{
					groupUid: g.Uid, groupID: g.GroupID, nodeType: nodeType, poolUid: g.PoolUid,
					newPrimary: secondary.Uid, newSecondary: primary.Uid,
				})
			}
		}
	}

	for _, p := range toPromote {
		if _, err := store.WriteTx(ctx, e.store, func(tx *sql.Tx) (struct{}, error) {
			return struct{}{}, store.SwapBuddyGroupTargets(tx, p.groupUid)
		}); err != nil {
			e.logger.Error().Err(err).Uint64("group_uid", uint64(p.groupUid)).Msg("failed to commit buddy group promotion")
			continue
		}

		metrics.SwitchoverPromotionsTotal.WithLabelValues(string(p.nodeType)).Inc()
		e.logger.Warn().
			Uint64("group_uid", uint64(p.groupUid)).
			Uint16("group_id", p.groupID).
			Uint64("new_primary", uint64(p.newPrimary)).
			Msg("promoted secondary to primary")

		e.broadcast(ctx, p)
	}

	return nil
}

// broadcastUids collects the Uids of every node of the given types, the
// audience for a switchover announcement.
func (e *Engine) broadcastUids(ctx context.Context, nodeTypes ...types.NodeType) ([]types.Uid, error) {
	return store.ReadTx(ctx, e.store, func(tx *sql.Tx) ([]types.Uid, error) {
		var uids []types.Uid
		for _, nt := range nodeTypes {
			nodes, err := store.ListNodesByType(tx, nt)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				uids = append(uids, n.Uid)
			}
		}
		return uids, nil
	})
}

func (e *Engine) loadMembers(ctx context.Context, g types.BuddyGroup) (primary, secondary types.Target, ok bool, err error) {
	type pair struct{ primary, secondary types.Target }
	res, err := store.ReadTx(ctx, e.store, func(tx *sql.Tx) (pair, error) {
		p, err := store.GetTargetByUid(tx, g.PrimaryTarget)
		if err != nil {
			return pair{}, err
		}
		s, err := store.GetTargetByUid(tx, g.SecondaryTarget)
		if err != nil {
			return pair{}, err
		}
		nodes, err := store.ListNodesByType(tx, g.Type)
		if err != nil {
			return pair{}, err
		}
		for _, n := range nodes {
			if n.Uid == p.NodeUid {
				p.LastContact = n.LastContact
			}
			if n.Uid == s.NodeUid {
				s.LastContact = n.LastContact
			}
		}
		return pair{primary: p, secondary: s}, nil
	})
	if err != nil {
		return types.Target{}, types.Target{}, false, err
	}
	return res.primary, res.secondary, true, nil
}

// broadcast notifies metadata, storage, and client peers of the new
// primary/secondary mapping. The legacy protocol has no message
// dedicated to an out-of-band switchover announcement, so this reuses
// the buddy-group-mapping response schema as the broadcast payload,
// matching how GetMirrorBuddyGroupsResp already describes one group's
// current mapping.
func (e *Engine) broadcast(ctx context.Context, p promotion) {
	var poolUid uint64
	if p.poolUid != nil {
		poolUid = uint64(*p.poolUid)
	}

	body := wire.EncodeBuddyGroupMapping(wire.BuddyGroupMapping{
		GroupUid:     uint64(p.groupUid),
		GroupID:      p.groupID,
		NodeType:     string(p.nodeType),
		PrimaryUid:   uint64(p.newPrimary),
		SecondaryUid: uint64(p.newSecondary),
		PoolUid:      poolUid,
	})

	audience, err := e.broadcastUids(ctx, types.NodeMeta, types.NodeStorage, types.NodeClient)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to load switchover broadcast audience")
		return
	}
	if err := e.pool.BroadcastDatagram(audience, wire.MsgSetMirrorBuddyGroupResp, 0, body); err != nil {
		e.logger.Warn().Err(err).Msg("failed to broadcast buddy group switchover")
	}
}
