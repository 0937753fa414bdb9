package rpc

import (
	"context"
	"database/sql"
	"time"

	"google.golang.org/grpc/status"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// TargetInfo is one target in a ListTargets answer.
type TargetInfo struct {
	Uid         uint64 `json:"uid"`
	TargetID    uint16 `json:"target_id"`
	Type        string `json:"type"`
	NodeUid     uint64 `json:"node_uid"`
	PoolUid     uint64 `json:"pool_uid,omitempty"`
	Consistency string `json:"consistency"`
}

type ListTargetsRequest struct {
	NodeType string `json:"node_type"`
}

type ListTargetsResponse struct {
	Targets []TargetInfo `json:"targets"`
}

// ListTargets answers every target of a node type.
func (s *Service) ListTargets(ctx context.Context, req *ListTargetsRequest) (*ListTargetsResponse, error) {
	targets, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) ([]types.Target, error) {
		return store.ListTargetsByType(tx, types.NodeType(req.NodeType))
	})
	if err != nil {
		return nil, err
	}
	out := make([]TargetInfo, 0, len(targets))
	for _, t := range targets {
		info := TargetInfo{
			Uid: uint64(t.Uid), TargetID: t.TargetID, Type: string(t.Type),
			NodeUid: uint64(t.NodeUid), Consistency: string(t.Consistency),
		}
		if t.PoolUid != nil {
			info.PoolUid = uint64(*t.PoolUid)
		}
		out = append(out, info)
	}
	return &ListTargetsResponse{Targets: out}, nil
}

type DeleteTargetRequest struct {
	Ref EntityRef `json:"ref"`
}

type DeleteTargetResponse struct{}

// DeleteTarget removes a target, refusing when it roots the filesystem
// or still belongs to a buddy group. The legacy protocol has no target
// removal message; this is the only path that deletes a target.
func (s *Service) DeleteTarget(ctx context.Context, req *DeleteTargetRequest) (*DeleteTargetResponse, error) {
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		uid, err := Resolve(tx, req.Ref, types.EntityTarget)
		if err != nil {
			return struct{}{}, err
		}

		root, err := store.GetRootInode(tx)
		if err != nil && !mgmterr.Is(err, mgmterr.NotFound) {
			return struct{}{}, err
		}
		if err == nil && root.OwnerKind == types.RootOwnedByTarget && root.OwnerUid == uid {
			return struct{}{}, mgmterr.Newf(mgmterr.Conflict, "target uid %d roots the filesystem and cannot be removed", uid)
		}

		grouped, err := store.TargetInBuddyGroup(tx, uid)
		if err != nil {
			return struct{}{}, err
		}
		if grouped {
			return struct{}{}, mgmterr.Newf(mgmterr.Conflict, "target uid %d is a buddy group member; remove the group first", uid)
		}

		return struct{}{}, store.DeleteTarget(tx, uid)
	})
	if err != nil {
		return nil, err
	}
	return &DeleteTargetResponse{}, nil
}

type SetTargetStateRequest struct {
	Ref         EntityRef `json:"ref"`
	Consistency string    `json:"consistency"`
}

type SetTargetStateResponse struct{}

// SetTargetState sets a target's consistency state directly, the
// operator override the legacy ChangeTargetConsistencyStates message
// offers to storage nodes reporting their own post-resync state.
func (s *Service) SetTargetState(ctx context.Context, req *SetTargetStateRequest) (*SetTargetStateResponse, error) {
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		uid, err := Resolve(tx, req.Ref, types.EntityTarget)
		if err != nil {
			return struct{}{}, err
		}
		changed, err := store.SetTargetConsistency(tx, uid, types.ConsistencyState(req.Consistency))
		if err != nil {
			return struct{}{}, err
		}
		if !changed {
			return struct{}{}, mgmterr.Newf(mgmterr.NotFound, "target uid %d not found", uid)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return &SetTargetStateResponse{}, nil
}

type StartResyncRequest struct {
	Ref EntityRef `json:"ref"`
}

type StartResyncResponse struct {
	Completed bool `json:"completed"`
}

// resyncPollInterval and resyncPollTimeout bound start-resync's wait for
// a target to report ConsistencyGood: polled every 2s for up to 180s,
// the one per-operation timeout the concurrency model calls out by name.
const (
	resyncPollInterval = 2 * time.Second
	resyncPollTimeout  = 180 * time.Second
)

// StartResync marks a target NeedsResync (the signal the owning storage
// node picks up and acts on out of band) and polls the store until it
// reports ConsistencyGood again or the timeout elapses. Completed is
// false, not an error, on timeout: the resync may still be running, it
// simply outlived this call's patience.
func (s *Service) StartResync(ctx context.Context, req *StartResyncRequest) (*StartResyncResponse, error) {
	uid, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (types.Uid, error) {
		resolved, err := Resolve(tx, req.Ref, types.EntityTarget)
		if err != nil {
			return 0, err
		}
		if _, err := store.SetTargetConsistency(tx, resolved, types.ConsistencyNeedsResync); err != nil {
			return 0, err
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(resyncPollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(resyncPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		case <-deadline.C:
			return &StartResyncResponse{Completed: false}, nil
		case <-ticker.C:
			t, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Target, error) {
				return store.GetTargetByUid(tx, uid)
			})
			if err != nil {
				return nil, err
			}
			if t.Consistency == types.ConsistencyGood {
				return &StartResyncResponse{Completed: true}, nil
			}
		}
	}
}
