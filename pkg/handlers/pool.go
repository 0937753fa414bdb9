package handlers

import (
	"context"
	"database/sql"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// AddStoragePool creates a storage pool, allocating the next free pool id
// when the caller passes 0. The alias field rides the wire but is not
// persisted: pools are addressed by numeric id everywhere else in this
// codebase, the same way the teacher addresses nodes.
func AddStoragePool(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeStoragePoolRequest(body)
	if err != nil {
		return err
	}

	poolID, err := store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (uint16, error) {
		if req.PoolID != 0 {
			if _, found, err := store.GetPoolByPoolID(tx, req.PoolID); err != nil {
				return 0, err
			} else if found {
				return 0, mgmterr.Newf(mgmterr.Conflict, "storage pool id %d already exists", req.PoolID)
			}
		}

		pools, err := store.ListPools(tx)
		if err != nil {
			return 0, err
		}
		taken := make(map[uint16]bool, len(pools))
		for _, p := range pools {
			taken[p.PoolID] = true
		}

		id := req.PoolID
		if id == 0 {
			id, err = lowestFreeUint16(taken)
			if err != nil {
				return 0, err
			}
		}

		uid, err := store.NextUid(tx)
		if err != nil {
			return 0, err
		}
		if err := store.InsertPool(tx, types.Pool{Uid: uid, PoolID: id}); err != nil {
			return 0, err
		}
		return id, nil
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgAddStoragePoolResp, 0, wire.EncodeStoragePoolResponse(wire.StoragePoolResponse{
		AssignedPoolID: poolID, Result: wire.ResultSuccess,
	}))
}

// RemoveStoragePool deletes an empty storage pool. The default pool
// (id 0) can never be removed, and a pool still holding targets or buddy
// groups refuses with a conflict rather than orphaning its members.
func RemoveStoragePool(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeStoragePoolRequest(body)
	if err != nil {
		return err
	}
	if req.PoolID == types.DefaultPoolID {
		return mgmterr.Newf(mgmterr.Invalid, "the default storage pool cannot be removed")
	}

	_, err = store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (struct{}, error) {
		p, found, err := store.GetPoolByPoolID(tx, req.PoolID)
		if err != nil {
			return struct{}{}, err
		}
		if !found {
			return struct{}{}, mgmterr.Newf(mgmterr.NotFound, "storage pool id %d not found", req.PoolID)
		}
		n, err := store.PoolMemberCount(tx, p.Uid)
		if err != nil {
			return struct{}{}, err
		}
		if n > 0 {
			return struct{}{}, mgmterr.Newf(mgmterr.Conflict, "storage pool id %d still has %d member(s)", req.PoolID, n)
		}
		return struct{}{}, store.DeletePool(tx, p.Uid)
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgRemoveStoragePoolResp, 0, wire.EncodeResultResponse(wire.ResultResponse{Result: wire.ResultSuccess}))
}

// GetStoragePools answers the full storage pool catalog.
func GetStoragePools(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	pools, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) ([]types.Pool, error) {
		return store.ListPools(tx)
	})
	if err != nil {
		return err
	}

	out := make([]wire.PoolInfo, 0, len(pools))
	for _, p := range pools {
		out = append(out, wire.PoolInfo{Uid: uint64(p.Uid), PoolID: p.PoolID})
	}

	return ch.Reply(wire.MsgGetStoragePoolsResp, 0, wire.EncodeGetStoragePoolsResponse(wire.GetStoragePoolsResponse{Pools: out}))
}
