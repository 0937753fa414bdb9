package rpc

import (
	"context"
	"database/sql"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// PoolInfo is one storage pool in a ListPools answer.
type PoolInfo struct {
	Uid    uint64 `json:"uid"`
	PoolID uint16 `json:"pool_id"`
	Alias  string `json:"alias,omitempty"`
}

type ListPoolsResponse struct {
	Pools []PoolInfo `json:"pools"`
}

// ListPools answers the full storage pool catalog, alias included.
func (s *Service) ListPools(ctx context.Context, _ *struct{}) (*ListPoolsResponse, error) {
	pools, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]PoolInfo, error) {
		rows, err := store.ListPools(tx)
		if err != nil {
			return nil, err
		}
		out := make([]PoolInfo, 0, len(rows))
		for _, p := range rows {
			alias, err := store.GetAliasForUid(tx, p.Uid)
			if err != nil {
				return nil, err
			}
			out = append(out, PoolInfo{Uid: uint64(p.Uid), PoolID: p.PoolID, Alias: alias})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return &ListPoolsResponse{Pools: pools}, nil
}

type CreatePoolRequest struct {
	PoolID uint16 `json:"pool_id,omitempty"`
	Alias  string `json:"alias,omitempty"`
}

type CreatePoolResponse struct {
	Uid    uint64 `json:"uid"`
	PoolID uint16 `json:"pool_id"`
}

// CreatePool creates a storage pool, allocating the next free pool id
// when the caller passes 0, and registering Alias if given — the one
// capability AddStoragePool's legacy counterpart advertises on the wire
// but never actually persists.
func (s *Service) CreatePool(ctx context.Context, req *CreatePoolRequest) (*CreatePoolResponse, error) {
	type result struct {
		uid    types.Uid
		poolID uint16
	}
	res, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (result, error) {
		if req.PoolID != 0 {
			if _, found, err := store.GetPoolByPoolID(tx, req.PoolID); err != nil {
				return result{}, err
			} else if found {
				return result{}, mgmterr.Newf(mgmterr.Conflict, "storage pool id %d already exists", req.PoolID)
			}
		}

		pools, err := store.ListPools(tx)
		if err != nil {
			return result{}, err
		}
		taken := make(map[uint16]bool, len(pools))
		for _, p := range pools {
			taken[p.PoolID] = true
		}

		id := req.PoolID
		if id == 0 {
			id, err = lowestFreeID(taken)
			if err != nil {
				return result{}, err
			}
		}

		uid, err := store.NextUid(tx)
		if err != nil {
			return result{}, err
		}
		if err := store.InsertPool(tx, types.Pool{Uid: uid, PoolID: id}); err != nil {
			return result{}, err
		}
		if req.Alias != "" {
			if err := store.InsertAlias(tx, uid, types.EntityPool, req.Alias); err != nil {
				return result{}, err
			}
		}
		return result{uid: uid, poolID: id}, nil
	})
	if err != nil {
		return nil, err
	}
	return &CreatePoolResponse{Uid: uint64(res.uid), PoolID: res.poolID}, nil
}

type DeletePoolRequest struct {
	Ref EntityRef `json:"ref"`
}

type DeletePoolResponse struct{}

// DeletePool removes an empty storage pool. The default pool is refused
// unconditionally, and a pool still holding targets refuses with a
// conflict.
func (s *Service) DeletePool(ctx context.Context, req *DeletePoolRequest) (*DeletePoolResponse, error) {
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		uid, err := Resolve(tx, req.Ref, types.EntityPool)
		if err != nil {
			return struct{}{}, err
		}
		defaultPool, _, err := store.GetPoolByPoolID(tx, types.DefaultPoolID)
		if err != nil {
			return struct{}{}, err
		}
		if uid == defaultPool.Uid {
			return struct{}{}, mgmterr.Newf(mgmterr.Invalid, "the default storage pool cannot be removed")
		}
		n, err := store.PoolMemberCount(tx, uid)
		if err != nil {
			return struct{}{}, err
		}
		if n > 0 {
			return struct{}{}, mgmterr.Newf(mgmterr.Conflict, "storage pool still has %d member(s)", n)
		}
		return struct{}{}, store.DeletePool(tx, uid)
	})
	if err != nil {
		return nil, err
	}
	return &DeletePoolResponse{}, nil
}

// lowestFreeID mirrors pkg/handlers' lowestFreeUint16 allocator (pool
// ids and buddy group ids both draw from it); the structured surface
// keeps its own small copy rather than exporting an internal handlers
// helper across package boundaries for two call sites.
func lowestFreeID(taken map[uint16]bool) (uint16, error) {
	for id := uint16(1); id <= 65535; id++ {
		if !taken[id] {
			return id, nil
		}
	}
	return 0, mgmterr.Newf(mgmterr.Policy, "no free id in range 1..=65535")
}
