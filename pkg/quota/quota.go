package quota

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/metrics"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// TrackedIDs is the set of quota IDs the aggregator collects usage for,
// per accounting axis. Resolving the configured sources (OS account
// files, explicit lists, ranges) into these sets is a CLI/configuration
// concern; the core only ever sees the resolved result.
type TrackedIDs struct {
	Users  []uint32
	Groups []uint32
}

func (t TrackedIDs) forType(idType types.IDType) []uint32 {
	if idType == types.IDTypeUser {
		return t.Users
	}
	return t.Groups
}

var axes = []types.QuotaType{types.QuotaSpace, types.QuotaInode}
var idTypes = []types.IDType{types.IDTypeUser, types.IDTypeGroup}

// TrackedIDsFunc supplies the current tracked-ID sets, re-resolved on
// every call so a changed source file takes effect on the next cycle
// without requiring a restart.
type TrackedIDsFunc func() TrackedIDs

// Engine runs one aggregation cycle per storage pool: collect usage from
// member targets, persist it, compute the exceeded set, broadcast it.
type Engine struct {
	store      *store.Store
	pool       *connpool.Pool
	trackedIDs TrackedIDsFunc
	logger     zerolog.Logger
}

// New builds an Engine. trackedIDs is consulted fresh at the start of
// every cycle.
func New(s *store.Store, pool *connpool.Pool, trackedIDs TrackedIDsFunc, logger zerolog.Logger) *Engine {
	return &Engine{store: s, pool: pool, trackedIDs: trackedIDs, logger: logger.With().Str("component", "quota").Logger()}
}

// RunCycle performs one full collect-aggregate-broadcast pass over every
// storage pool. It is the function handed to pkg/periodic.
func (e *Engine) RunCycle(ctx context.Context) error {
	ids := e.trackedIDs()

	pools, err := store.ReadTx(ctx, e.store, func(tx *sql.Tx) ([]types.Pool, error) {
		return store.ListPools(tx)
	})
	if err != nil {
		return err
	}

	audience, err := e.broadcastAudience(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to load quota broadcast audience")
	}

	for _, p := range pools {
		timer := metrics.NewTimer()
		if err := e.runPoolCycle(ctx, p, ids, audience); err != nil {
			e.logger.Error().Err(err).Uint16("pool_id", p.PoolID).Msg("quota aggregation cycle failed")
		}
		timer.ObserveDurationVec(metrics.QuotaAggregationDuration, strconv.Itoa(int(p.PoolID)))
	}
	return nil
}

func (e *Engine) runPoolCycle(ctx context.Context, p types.Pool, ids TrackedIDs, audience []types.Uid) error {
	targets, err := store.ReadTx(ctx, e.store, func(tx *sql.Tx) ([]types.Target, error) {
		return store.ListTargetsByPool(tx, p.Uid)
	})
	if err != nil {
		return fmt.Errorf("list targets for pool %d: %w", p.PoolID, err)
	}

	for _, idType := range idTypes {
		queryIDs := ids.forType(idType)
		if len(queryIDs) == 0 {
			continue
		}
		for _, quotaType := range axes {
			if err := e.collectUsage(ctx, targets, idType, quotaType, queryIDs); err != nil {
				e.logger.Warn().Err(err).Uint16("pool_id", p.PoolID).
					Str("id_type", string(idType)).Str("quota_type", string(quotaType)).
					Msg("failed to collect usage for one axis")
			}
		}
	}

	for _, idType := range idTypes {
		for _, quotaType := range axes {
			exceeded, err := e.exceededIDs(ctx, p.PoolID, idType, quotaType)
			if err != nil {
				e.logger.Warn().Err(err).Uint16("pool_id", p.PoolID).
					Str("id_type", string(idType)).Str("quota_type", string(quotaType)).
					Msg("failed to compute exceeded set")
				continue
			}
			metrics.QuotaExceededIDsTotal.WithLabelValues(
				strconv.Itoa(int(p.PoolID)), string(idType), string(quotaType),
			).Set(float64(len(exceeded)))
			if len(exceeded) == 0 {
				continue
			}
			e.broadcastExceeded(p.PoolID, idType, quotaType, exceeded, audience)
		}
	}
	return nil
}

// collectUsage requests usage for queryIDs from every target's owning
// node and persists the per-target result.
func (e *Engine) collectUsage(ctx context.Context, targets []types.Target, idType types.IDType, quotaType types.QuotaType, queryIDs []uint32) error {
	body := wire.EncodeGetQuotaInfoRequest(wire.GetQuotaInfoRequest{
		IDType:    string(idType),
		QuotaType: string(quotaType),
		IDs:       queryIDs,
	})

	for _, t := range targets {
		_, respBody, err := e.pool.Request(ctx, t.NodeUid, wire.MsgGetQuotaInfo, 0, body)
		if err != nil {
			e.logger.Warn().Err(err).Uint64("target_uid", uint64(t.Uid)).Msg("GetQuotaInfo request failed")
			continue
		}
		resp, err := wire.DecodeGetQuotaInfoResponse(respBody)
		if err != nil {
			e.logger.Warn().Err(err).Uint64("target_uid", uint64(t.Uid)).Msg("malformed GetQuotaInfo response")
			continue
		}

		if _, err := store.WriteTxNoSync(ctx, e.store, func(tx *sql.Tx) (struct{}, error) {
			for _, u := range resp.Usage {
				if err := store.UpsertQuotaUsage(tx, types.QuotaUsage{
					QuotaID: u.QuotaID, IDType: idType, Type: quotaType,
					TargetID: t.TargetID, Value: u.Value,
				}); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// exceededIDs computes the set of quota IDs whose summed usage across
// the pool exceeds the applicable limit: an explicit per-ID override if
// set, else the pool's default for that axis.
func (e *Engine) exceededIDs(ctx context.Context, poolID uint16, idType types.IDType, quotaType types.QuotaType) ([]uint32, error) {
	return ExceededIDs(ctx, e.store, poolID, idType, quotaType)
}

// ExceededIDs computes the set of quota IDs whose summed usage across
// the pool exceeds the applicable limit: an explicit per-ID override if
// set, else the pool's default for that axis. Exported so the
// RequestExceededQuota handler can answer on-demand queries with the same
// logic the aggregation cycle uses to decide what to broadcast.
func ExceededIDs(ctx context.Context, s *store.Store, poolID uint16, idType types.IDType, quotaType types.QuotaType) ([]uint32, error) {
	return store.ReadTx(ctx, s, func(tx *sql.Tx) ([]uint32, error) {
		summed, err := store.SummedQuotaUsage(tx, poolID, idType, quotaType)
		if err != nil {
			return nil, err
		}
		defaultLimit, hasDefault, err := store.GetDefaultQuotaLimit(tx, poolID, idType, quotaType)
		if err != nil {
			return nil, err
		}

		var exceeded []uint32
		for id, usage := range summed {
			limit, hasLimit, err := store.GetQuotaLimit(tx, id, idType, quotaType, poolID)
			if err != nil {
				return nil, err
			}
			if !hasLimit {
				if !hasDefault {
					continue // unlimited
				}
				limit = defaultLimit
			}
			if usage > limit {
				exceeded = append(exceeded, id)
			}
		}
		return exceeded, nil
	})
}

func (e *Engine) broadcastExceeded(poolID uint16, idType types.IDType, quotaType types.QuotaType, ids []uint32, audience []types.Uid) {
	if len(audience) == 0 {
		return
	}
	body := wire.EncodeExceededQuotaIDs(wire.ExceededQuotaIDs{
		PoolID: poolID, IDType: string(idType), QuotaType: string(quotaType), IDs: ids,
	})
	if err := e.pool.BroadcastDatagram(audience, wire.MsgSetExceededQuota, 0, body); err != nil {
		e.logger.Warn().Err(err).Uint16("pool_id", poolID).Msg("failed to broadcast exceeded quota ids")
	}
}

// broadcastAudience returns the Uids of every metadata and storage node,
// the recipients of a SetExceededQuota push.
func (e *Engine) broadcastAudience(ctx context.Context) ([]types.Uid, error) {
	return store.ReadTx(ctx, e.store, func(tx *sql.Tx) ([]types.Uid, error) {
		var uids []types.Uid
		for _, nt := range []types.NodeType{types.NodeMeta, types.NodeStorage} {
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
