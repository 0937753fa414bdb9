package rpc

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/runstate"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mgmtd.db")
	s, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pool := connpool.New(connpool.Config{}, nil, zerolog.Nop())
	return NewService(s, pool, runstate.New(), zerolog.Nop())
}

// insertStorageNodeAndTarget seeds one storage node and one target owned
// by it, not yet in any pool.
func insertStorageNodeAndTarget(t *testing.T, s *Service, numID uint32, targetID uint16) (nodeUid, targetUid types.Uid) {
	t.Helper()
	_, err := store.WriteTx(context.Background(), s.store, func(tx *sql.Tx) (struct{}, error) {
		var err error
		nodeUid, err = store.NextUid(tx)
		if err != nil {
			return struct{}{}, err
		}
		if err := store.InsertNode(tx, types.Node{Uid: nodeUid, NumID: numID, Type: types.NodeStorage, Port: 8003}); err != nil {
			return struct{}{}, err
		}
		targetUid, err = store.NextUid(tx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, store.InsertTarget(tx, types.Target{
			Uid: targetUid, TargetID: targetID, Type: types.NodeStorage, NodeUid: nodeUid,
			Consistency: types.ConsistencyGood, LastContact: time.Now(),
		})
	})
	require.NoError(t, err)
	return nodeUid, targetUid
}

func TestResolve_ByUidAliasAndLegacyID(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	nodeUid, _ := insertStorageNodeAndTarget(t, s, 7, 1)

	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, store.InsertAlias(tx, nodeUid, types.EntityNode, "storage-7")
	})
	require.NoError(t, err)

	byUid, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Uid, error) {
		uid := uint64(nodeUid)
		return Resolve(tx, EntityRef{Uid: &uid}, types.EntityNode)
	})
	require.NoError(t, err)
	require.Equal(t, nodeUid, byUid)

	byAlias, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Uid, error) {
		alias := "storage-7"
		return Resolve(tx, EntityRef{Alias: &alias}, types.EntityNode)
	})
	require.NoError(t, err)
	require.Equal(t, nodeUid, byAlias)

	byLegacy, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Uid, error) {
		return Resolve(tx, EntityRef{LegacyID: &LegacyID{NodeType: "Storage", NumID: 7}}, types.EntityNode)
	})
	require.NoError(t, err)
	require.Equal(t, nodeUid, byLegacy)

	_, err = store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.Uid, error) {
		return Resolve(tx, EntityRef{}, types.EntityNode)
	})
	require.Error(t, err)
}

func TestDeleteNode_RefusesWhileTargetsOwned(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	nodeUid, _ := insertStorageNodeAndTarget(t, s, 1, 1)

	uid := uint64(nodeUid)
	_, err := s.DeleteNode(ctx, &DeleteNodeRequest{Ref: EntityRef{Uid: &uid}})
	require.Error(t, err)
}

func TestDeleteNode_SucceedsOnceTargetsGone(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	nodeUid, targetUid := insertStorageNodeAndTarget(t, s, 1, 1)

	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, store.DeleteTarget(tx, targetUid)
	})
	require.NoError(t, err)

	uid := uint64(nodeUid)
	_, err = s.DeleteNode(ctx, &DeleteNodeRequest{Ref: EntityRef{Uid: &uid}})
	require.NoError(t, err)
}

func TestDeleteTarget_RefusesGroupedTarget(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, primary := insertStorageNodeAndTarget(t, s, 1, 1)
	_, secondary := insertStorageNodeAndTarget(t, s, 2, 2)

	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		groupUid, err := store.NextUid(tx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, store.InsertBuddyGroup(tx, types.BuddyGroup{
			Uid: groupUid, GroupID: 1, Type: types.NodeStorage, PrimaryTarget: primary, SecondaryTarget: secondary,
		})
	})
	require.NoError(t, err)

	uid := uint64(primary)
	_, err = s.DeleteTarget(ctx, &DeleteTargetRequest{Ref: EntityRef{Uid: &uid}})
	require.Error(t, err)
}

func TestCreatePoolAndDeletePool(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.CreatePool(ctx, &CreatePoolRequest{Alias: "fast-pool"})
	require.NoError(t, err)
	require.NotZero(t, created.PoolID)

	listed, err := s.ListPools(ctx, &struct{}{})
	require.NoError(t, err)
	require.Len(t, listed.Pools, 1)

	uid := created.Uid
	_, err = s.DeletePool(ctx, &DeletePoolRequest{Ref: EntityRef{Uid: &uid}})
	require.NoError(t, err)
}

func TestDeletePool_RefusesDefault(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	defaultUid, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (types.Uid, error) {
		return store.EnsureDefaultPool(tx)
	})
	require.NoError(t, err)

	uid := uint64(defaultUid)
	_, err = s.DeletePool(ctx, &DeletePoolRequest{Ref: EntityRef{Uid: &uid}})
	require.Error(t, err)
}

func TestCreateBuddyGroup_RejectsSelfPair(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, target := insertStorageNodeAndTarget(t, s, 1, 1)

	uid := uint64(target)
	_, err := s.CreateBuddyGroup(ctx, &CreateBuddyGroupRequest{
		NodeType: "Storage", Primary: EntityRef{Uid: &uid}, Secondary: EntityRef{Uid: &uid},
	})
	require.Error(t, err)
}

func TestDeleteBuddyGroup_DryRunCommitsNothing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, primary := insertStorageNodeAndTarget(t, s, 1, 1)
	_, secondary := insertStorageNodeAndTarget(t, s, 2, 2)

	var groupUid types.Uid
	_, err := store.WriteTx(ctx, s.store, func(tx *sql.Tx) (struct{}, error) {
		var err error
		groupUid, err = store.NextUid(tx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, store.InsertBuddyGroup(tx, types.BuddyGroup{
			Uid: groupUid, GroupID: 1, Type: types.NodeStorage, PrimaryTarget: primary, SecondaryTarget: secondary,
		})
	})
	require.NoError(t, err)

	uid := uint64(groupUid)
	resp, err := s.DeleteBuddyGroup(ctx, &DeleteBuddyGroupRequest{Ref: EntityRef{Uid: &uid}, DryRun: true})
	require.NoError(t, err)
	require.True(t, resp.WouldSucceed)

	still, err := store.ReadTx(ctx, s.store, func(tx *sql.Tx) (types.BuddyGroup, error) {
		return store.GetBuddyGroupByUid(tx, groupUid)
	})
	require.NoError(t, err)
	require.Equal(t, groupUid, still.Uid)
}

func TestSetQuotaAndStreamQuotaLimits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.CreatePool(ctx, &CreatePoolRequest{})
	require.NoError(t, err)
	poolID := created.PoolID

	_, err = s.SetQuota(ctx, &SetQuotaRequest{
		PoolID: poolID, IDType: "User", QuotaType: "Space",
		Limits: []QuotaLimitEntry{{QuotaID: 1001, Value: 1000}, {QuotaID: 1002, Value: 2000}},
	})
	require.NoError(t, err)

	var pages []QuotaLimitPage
	err = s.StreamQuotaLimits(ctx, &StreamQuotaLimitsRequest{PoolID: poolID, IDType: "User", QuotaType: "Space"},
		func(p *QuotaLimitPage) error {
			pages = append(pages, *p)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Limits, 2)
}

func TestMirrorRootInode_RejectsUnknownOwnerKind(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	uid := uint64(1)
	_, err := s.MirrorRootInode(ctx, &MirrorRootInodeRequest{OwnerKind: "Bogus", Ref: EntityRef{Uid: &uid}})
	require.Error(t, err)
}
