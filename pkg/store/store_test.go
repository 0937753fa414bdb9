package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mgmtd.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrationsToLatest(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, latestSchemaVersion(), v)
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mgmtd.db")
	s1, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, latestSchemaVersion(), v)
}

func TestNextUid_MonotonicAndStartsAboveManagementUid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := WriteTx(ctx, s, func(tx *sql.Tx) (types.Uid, error) {
		return NextUid(tx)
	})
	require.NoError(t, err)
	assert.Greater(t, uint64(first), uint64(types.ManagementUid))

	second, err := WriteTx(ctx, s, func(tx *sql.Tx) (types.Uid, error) {
		return NextUid(tx)
	})
	require.NoError(t, err)
	assert.Greater(t, uint64(second), uint64(first))
}

func TestInsertNode_RoundTripWithNics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := types.Node{
		Uid:   100,
		NumID: 1,
		Type:  types.NodeStorage,
		Port:  8003,
		Nics: []types.Nic{
			{Address: []byte{10, 0, 0, 1}, Name: "eth0", Type: types.NicEthernet},
		},
		LastContact: time.Now().UTC().Truncate(time.Second),
	}

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, InsertNode(tx, n)
	})
	require.NoError(t, err)

	got, err := ReadTx(ctx, s, func(tx *sql.Tx) (types.Node, error) {
		found, ok, err := GetNodeByTypeAndNumID(tx, types.NodeStorage, 1)
		if err != nil {
			return types.Node{}, err
		}
		if !ok {
			t.Fatal("expected node to be found")
		}
		return found, nil
	})
	require.NoError(t, err)
	assert.Equal(t, n.Uid, got.Uid)
	assert.Equal(t, n.Port, got.Port)
	require.Len(t, got.Nics, 1)
	assert.Equal(t, "eth0", got.Nics[0].Name)
}

func TestInsertNode_DuplicateNumIDConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	insert := func(uid types.Uid) error {
		_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
			return struct{}{}, InsertNode(tx, types.Node{Uid: uid, NumID: 5, Type: types.NodeMeta, Port: 8004})
		})
		return err
	}

	require.NoError(t, insert(200))
	err := insert(201)
	require.Error(t, err)
	assert.Equal(t, mgmterr.Conflict, mgmterr.KindOf(err))
}

func TestAlias_UniqueAcrossAllKinds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, InsertAlias(tx, 300, types.EntityNode, "shared-name")
	})
	require.NoError(t, err)

	_, err = WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, InsertAlias(tx, 301, types.EntityPool, "shared-name")
	})
	require.Error(t, err)
	assert.Equal(t, mgmterr.Conflict, mgmterr.KindOf(err))
}

func TestRenameAlias_OldLookupFailsNewLookupSucceeds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, InsertAlias(tx, 400, types.EntityTarget, "old-name")
	})
	require.NoError(t, err)

	_, err = WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, RenameAlias(tx, 400, "new-name")
	})
	require.NoError(t, err)

	_, err = ReadTx(ctx, s, func(tx *sql.Tx) (types.Entity, error) {
		return LookupByAlias(tx, "old-name")
	})
	require.Error(t, err)
	assert.Equal(t, mgmterr.NotFound, mgmterr.KindOf(err))

	e, err := ReadTx(ctx, s, func(tx *sql.Tx) (types.Entity, error) {
		return LookupByAlias(tx, "new-name")
	})
	require.NoError(t, err)
	assert.Equal(t, types.Uid(400), e.Uid)
}

func TestPoolMemberCount_EmptyPoolCanBeDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, InsertPool(tx, types.Pool{Uid: 500, PoolID: 7})
	})
	require.NoError(t, err)

	count, err := ReadTx(ctx, s, func(tx *sql.Tx) (int, error) {
		return PoolMemberCount(tx, 500)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, DeletePool(tx, 500)
	})
	require.NoError(t, err)
}

func TestConfigEntry_GetUnsetReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := ReadTx(ctx, s, func(tx *sql.Tx) (string, bool, error) {
		return GetConfigEntry(tx, types.ConfigQuotaEnabled)
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigEntry_SetThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, SetConfigEntry(tx, types.ConfigQuotaEnabled, "true")
	})
	require.NoError(t, err)

	v, ok, err := ReadTx(ctx, s, func(tx *sql.Tx) (string, bool, error) {
		return GetConfigEntry(tx, types.ConfigQuotaEnabled)
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestWriteTxNoSync_CommitsLikeWriteTx(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTxNoSync(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, SetConfigEntry(tx, types.ConfigLastClientNumID, "42")
	})
	require.NoError(t, err)

	v, ok, err := ReadTx(ctx, s, func(tx *sql.Tx) (string, bool, error) {
		return GetConfigEntry(tx, types.ConfigLastClientNumID)
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestRootInode_UnsetIsNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := ReadTx(ctx, s, func(tx *sql.Tx) (types.RootInode, error) {
		return GetRootInode(tx)
	})
	require.Error(t, err)
	assert.Equal(t, mgmterr.NotFound, mgmterr.KindOf(err))
}

func TestRootInode_SetThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, SetRootInode(tx, types.RootInode{OwnerKind: types.RootOwnedByTarget, OwnerUid: 600})
	})
	require.NoError(t, err)

	r, err := ReadTx(ctx, s, func(tx *sql.Tx) (types.RootInode, error) {
		return GetRootInode(tx)
	})
	require.NoError(t, err)
	assert.Equal(t, types.RootOwnedByTarget, r.OwnerKind)
	assert.Equal(t, types.Uid(600), r.OwnerUid)
}

func TestSummedQuotaUsage_AggregatesAcrossTargetsInPool(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		if err := InsertPool(tx, types.Pool{Uid: 700, PoolID: 3}); err != nil {
			return struct{}{}, err
		}
		if err := InsertNode(tx, types.Node{Uid: 701, NumID: 9, Type: types.NodeStorage, Port: 8003}); err != nil {
			return struct{}{}, err
		}
		poolUid := types.Uid(700)
		if err := InsertTarget(tx, types.Target{Uid: 702, TargetID: 1, Type: types.NodeStorage, NodeUid: 701, PoolUid: &poolUid}); err != nil {
			return struct{}{}, err
		}
		if err := InsertTarget(tx, types.Target{Uid: 703, TargetID: 2, Type: types.NodeStorage, NodeUid: 701, PoolUid: &poolUid}); err != nil {
			return struct{}{}, err
		}
		if err := UpsertQuotaUsage(tx, types.QuotaUsage{QuotaID: 1000, IDType: types.IDTypeUser, Type: types.QuotaSpace, TargetID: 1, Value: 50}); err != nil {
			return struct{}{}, err
		}
		if err := UpsertQuotaUsage(tx, types.QuotaUsage{QuotaID: 1000, IDType: types.IDTypeUser, Type: types.QuotaSpace, TargetID: 2, Value: 75}); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)

	sums, err := ReadTx(ctx, s, func(tx *sql.Tx) (map[uint32]uint64, error) {
		return SummedQuotaUsage(tx, 3, types.IDTypeUser, types.QuotaSpace)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(125), sums[1000])
}

func TestListDistinctQuotaIDs_ReturnsEachIDOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := WriteTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		if err := SetQuotaLimit(tx, types.QuotaLimit{QuotaID: 1001, IDType: types.IDTypeUser, Type: types.QuotaSpace, PoolID: 1, Value: 10}); err != nil {
			return struct{}{}, err
		}
		if err := SetQuotaLimit(tx, types.QuotaLimit{QuotaID: 1001, IDType: types.IDTypeUser, Type: types.QuotaInode, PoolID: 1, Value: 20}); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, SetQuotaLimit(tx, types.QuotaLimit{QuotaID: 1002, IDType: types.IDTypeUser, Type: types.QuotaSpace, PoolID: 2, Value: 30})
	})
	require.NoError(t, err)

	ids, err := ReadTx(ctx, s, func(tx *sql.Tx) ([]uint32, error) {
		return ListDistinctQuotaIDs(tx, types.IDTypeUser)
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1001, 1002}, ids)

	groupIDs, err := ReadTx(ctx, s, func(tx *sql.Tx) ([]uint32, error) {
		return ListDistinctQuotaIDs(tx, types.IDTypeGroup)
	})
	require.NoError(t, err)
	assert.Empty(t, groupIDs)
}

func TestBackupFile_CreatesTimestampedCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mgmtd.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	dst, err := BackupFile(path)
	require.NoError(t, err)
	assert.FileExists(t, dst)
	assert.NotEqual(t, path, dst)
}
