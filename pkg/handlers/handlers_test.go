package handlers

import (
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beegfs-io/mgmtd/pkg/config"
	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

func newTestApp(t *testing.T) *Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mgmtd.db")
	s, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	return &Context{
		Store:  s,
		Pool:   connpool.New(connpool.Config{}, nil, zerolog.Nop()),
		Static: &StaticInfo{Config: cfg},
		Pulled: NewPullSink(),
		Logger: zerolog.Nop(),
	}
}

func newTestChannel(t *testing.T) (*connpool.Channel, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return connpool.NewTestChannel(server, false), client
}

// insertStorageNode registers a storage node directly through the store,
// the fixture every target/pool/buddy-group test builds on.
func insertStorageNode(t *testing.T, app *Context, numID uint32) types.Uid {
	t.Helper()
	uid, err := store.WriteTx(context.Background(), app.Store, func(tx *sql.Tx) (types.Uid, error) {
		uid, err := store.NextUid(tx)
		if err != nil {
			return 0, err
		}
		return uid, store.InsertNode(tx, types.Node{
			Uid: uid, NumID: numID, Type: types.NodeStorage, Port: 8003, LastContact: time.Now(),
		})
	})
	require.NoError(t, err)
	return uid
}

func registerStorageTarget(t *testing.T, app *Context, ch *connpool.Channel, conn net.Conn, nodeNumID uint32, targetID uint16) uint16 {
	t.Helper()
	body := wire.EncodeRegisterTargetRequest(wire.RegisterTargetRequest{
		NodeType: string(types.NodeStorage), NodeNumID: nodeNumID, TargetID: targetID,
	})
	require.NoError(t, RegisterTarget(context.Background(), app, ch, wire.Header{}, body))
	h, respBody, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)
	require.Equal(t, uint16(wire.MsgRegisterTargetResp), h.MsgID)
	resp, err := wire.DecodeRegisterTargetResponse(respBody)
	require.NoError(t, err)
	require.Equal(t, wire.ResultSuccess, resp.Result)
	return resp.AssignedTargetID
}

// TestGetNodeCapacityPools_DynamicRecalibrationChangesClassification shows
// that a target which classifies Normal under the static thresholds alone
// can be reclassified once a dynamic spread threshold is configured and the
// pool's free-space spread is wide enough to trigger recalibration,
// exercising the config -> handler -> classifier wiring end to end.
func TestGetNodeCapacityPools_DynamicRecalibrationChangesClassification(t *testing.T) {
	app := newTestApp(t)
	ch1, conn1 := newTestChannel(t)
	ch2, conn2 := newTestChannel(t)

	insertStorageNode(t, app, 1)
	tightTarget := registerStorageTarget(t, app, ch1, conn1, 1, 0)
	insertStorageNode(t, app, 2)
	roomyTarget := registerStorageTarget(t, app, ch2, conn2, 2, 0)

	app.Static.Config.StorageCapacityLimits = config.CapacityLimits{
		LowSpace: 100, EmergencySpace: 10, LowInodes: 100, EmergencyInodes: 10,
	}

	reportCh, reportConn := newTestChannel(t)
	setCapacity := func(targetID uint16, free uint64) {
		body := wire.EncodeSetStorageTargetInfoRequest(wire.SetStorageTargetInfoRequest{
			NodeType: string(types.NodeStorage),
			Targets: []wire.TargetCapacityReport{{
				TargetID: targetID, TotalSpace: 1000, FreeSpace: free, TotalInodes: 1000, FreeInodes: 1000,
				Consistency: string(types.ConsistencyGood),
			}},
		})
		require.NoError(t, SetStorageTargetInfo(context.Background(), app, reportCh, wire.Header{}, body))
		_, _, err := wire.ReadStreamFrame(reportConn)
		require.NoError(t, err)
	}
	setCapacity(tightTarget, 200) // both above static LowSpace(100): classify Normal statically
	setCapacity(roomyTarget, 900)

	queryPools := func() wire.CapacityPoolSet {
		queryCh, queryConn := newTestChannel(t)
		body := wire.EncodeGetNodeCapacityPoolsRequest(wire.GetNodeCapacityPoolsRequest{QueryType: "Storage"})
		require.NoError(t, GetNodeCapacityPools(context.Background(), app, queryCh, wire.Header{}, body))
		h, respBody, err := wire.ReadStreamFrame(queryConn)
		require.NoError(t, err)
		require.Equal(t, uint16(wire.MsgGetNodeCapacityPoolsResp), h.MsgID)
		resp, err := wire.DecodeGetNodeCapacityPoolsResponse(respBody)
		require.NoError(t, err)
		require.Len(t, resp.Groups, 1)
		return resp.Groups[0].Set
	}

	set := queryPools()
	assert.Contains(t, set.Normal, tightTarget)
	assert.Contains(t, set.Normal, roomyTarget)

	// The pool's free-space spread (900-200=700) exceeds a low
	// space_normal_threshold, so the classifier recalibrates SpaceLow up
	// to the dynamic value, dropping the tighter target out of Normal.
	app.Static.Config.StorageCapacityLimits.Dynamic = &config.DynamicCapacityLimits{
		LowSpace: 500, EmergencySpace: 10, LowInodes: 100, EmergencyInodes: 10,
		SpaceNormalThreshold: 50, SpaceLowThreshold: 1 << 62,
		InodesNormalThreshold: 1 << 62, InodesLowThreshold: 1 << 62,
	}

	set = queryPools()
	assert.Contains(t, set.Low, tightTarget, "free space 200 should drop to Low once dynamic recalibration raises SpaceLow to 500")
	assert.Contains(t, set.Normal, roomyTarget, "free space 900 should stay Normal under the recalibrated SpaceLow of 500")
}

func TestAddStoragePool_AllocatesAndReports(t *testing.T) {
	app := newTestApp(t)
	ch, conn := newTestChannel(t)

	body := wire.EncodeStoragePoolRequest(wire.StoragePoolRequest{PoolID: 0, Alias: "pool-a"})
	require.NoError(t, AddStoragePool(context.Background(), app, ch, wire.Header{}, body))

	h, respBody, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgAddStoragePoolResp), h.MsgID)
	resp, err := wire.DecodeStoragePoolResponse(respBody)
	require.NoError(t, err)
	assert.Equal(t, wire.ResultSuccess, resp.Result)
	assert.NotEqual(t, types.DefaultPoolID, resp.AssignedPoolID)

	ch2, conn2 := newTestChannel(t)
	require.NoError(t, GetStoragePools(context.Background(), app, ch2, wire.Header{}, nil))
	h2, body2, err := wire.ReadStreamFrame(conn2)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgGetStoragePoolsResp), h2.MsgID)
	listResp, err := wire.DecodeGetStoragePoolsResponse(body2)
	require.NoError(t, err)
	require.Len(t, listResp.Pools, 2) // default pool + the one just created
}

func TestAddStoragePool_RejectsDuplicateExplicitID(t *testing.T) {
	app := newTestApp(t)
	ch, conn := newTestChannel(t)

	body := wire.EncodeStoragePoolRequest(wire.StoragePoolRequest{PoolID: 5})
	require.NoError(t, AddStoragePool(context.Background(), app, ch, wire.Header{}, body))
	_, _, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)

	ch2, _ := newTestChannel(t)
	err = AddStoragePool(context.Background(), app, ch2, wire.Header{}, body)
	require.Error(t, err)
}

func TestRemoveStoragePool_RefusesNonEmptyAndDefault(t *testing.T) {
	app := newTestApp(t)

	ch, _ := newTestChannel(t)
	err := RemoveStoragePool(context.Background(), app, ch, wire.Header{},
		wire.EncodeStoragePoolRequest(wire.StoragePoolRequest{PoolID: types.DefaultPoolID}))
	require.Error(t, err)

	nodeUid := insertStorageNode(t, app, 1)
	_ = nodeUid
	regCh, regConn := newTestChannel(t)
	registerStorageTarget(t, app, regCh, regConn, 1, 0)

	ch2, _ := newTestChannel(t)
	err = RemoveStoragePool(context.Background(), app, ch2, wire.Header{},
		wire.EncodeStoragePoolRequest(wire.StoragePoolRequest{PoolID: types.DefaultPoolID}))
	require.Error(t, err, "default pool still refuses even when non-empty")
}

func TestRemoveStoragePool_SucceedsWhenEmpty(t *testing.T) {
	app := newTestApp(t)
	addCh, addConn := newTestChannel(t)
	require.NoError(t, AddStoragePool(context.Background(), app, addCh, wire.Header{},
		wire.EncodeStoragePoolRequest(wire.StoragePoolRequest{PoolID: 7})))
	_, addBody, err := wire.ReadStreamFrame(addConn)
	require.NoError(t, err)
	_, err = wire.DecodeStoragePoolResponse(addBody)
	require.NoError(t, err)

	ch, conn := newTestChannel(t)
	require.NoError(t, RemoveStoragePool(context.Background(), app, ch, wire.Header{},
		wire.EncodeStoragePoolRequest(wire.StoragePoolRequest{PoolID: 7})))
	h, body, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgRemoveStoragePoolResp), h.MsgID)
	resp, err := wire.DecodeResultResponse(body)
	require.NoError(t, err)
	assert.Equal(t, wire.ResultSuccess, resp.Result)
}

func TestSetMirrorBuddyGroup_CreatesGroupAndRejectsSelfPairAndReuse(t *testing.T) {
	app := newTestApp(t)
	insertStorageNode(t, app, 1)
	insertStorageNode(t, app, 2)

	ch1, conn1 := newTestChannel(t)
	primary := registerStorageTarget(t, app, ch1, conn1, 1, 0)
	ch2, conn2 := newTestChannel(t)
	secondary := registerStorageTarget(t, app, ch2, conn2, 2, 0)

	setCh, setConn := newTestChannel(t)
	body := wire.EncodeSetMirrorBuddyGroupRequest(wire.SetMirrorBuddyGroupRequest{
		NodeType: string(types.NodeStorage), PrimaryTargetID: primary, SecondaryTargetID: secondary,
	})
	require.NoError(t, SetMirrorBuddyGroup(context.Background(), app, setCh, wire.Header{}, body))
	h, respBody, err := wire.ReadStreamFrame(setConn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgSetMirrorBuddyGroupResp), h.MsgID)
	mapping, err := wire.DecodeBuddyGroupMapping(respBody)
	require.NoError(t, err)
	assert.NotZero(t, mapping.GroupID)

	selfCh, _ := newTestChannel(t)
	selfBody := wire.EncodeSetMirrorBuddyGroupRequest(wire.SetMirrorBuddyGroupRequest{
		NodeType: string(types.NodeStorage), PrimaryTargetID: primary, SecondaryTargetID: primary,
	})
	err = SetMirrorBuddyGroup(context.Background(), app, selfCh, wire.Header{}, selfBody)
	require.Error(t, err)

	insertStorageNode(t, app, 3)
	ch3, conn3 := newTestChannel(t)
	third := registerStorageTarget(t, app, ch3, conn3, 3, 0)
	reuseCh, _ := newTestChannel(t)
	reuseBody := wire.EncodeSetMirrorBuddyGroupRequest(wire.SetMirrorBuddyGroupRequest{
		NodeType: string(types.NodeStorage), PrimaryTargetID: primary, SecondaryTargetID: third,
	})
	err = SetMirrorBuddyGroup(context.Background(), app, reuseCh, wire.Header{}, reuseBody)
	require.Error(t, err, "primary is already a member of a group")
}

func TestGetMirrorBuddyGroups_ListsCreatedGroup(t *testing.T) {
	app := newTestApp(t)
	insertStorageNode(t, app, 1)
	insertStorageNode(t, app, 2)
	ch1, conn1 := newTestChannel(t)
	primary := registerStorageTarget(t, app, ch1, conn1, 1, 0)
	ch2, conn2 := newTestChannel(t)
	secondary := registerStorageTarget(t, app, ch2, conn2, 2, 0)

	setCh, setConn := newTestChannel(t)
	require.NoError(t, SetMirrorBuddyGroup(context.Background(), app, setCh, wire.Header{},
		wire.EncodeSetMirrorBuddyGroupRequest(wire.SetMirrorBuddyGroupRequest{
			NodeType: string(types.NodeStorage), PrimaryTargetID: primary, SecondaryTargetID: secondary,
		})))
	_, _, err := wire.ReadStreamFrame(setConn)
	require.NoError(t, err)

	listCh, listConn := newTestChannel(t)
	require.NoError(t, GetMirrorBuddyGroups(context.Background(), app, listCh, wire.Header{},
		wire.EncodeGetMirrorBuddyGroupsRequest(wire.GetMirrorBuddyGroupsRequest{NodeType: string(types.NodeStorage)})))
	h, body, err := wire.ReadStreamFrame(listConn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgGetMirrorBuddyGroupsResp), h.MsgID)
	resp, err := wire.DecodeGetMirrorBuddyGroupsResponse(body)
	require.NoError(t, err)
	require.Len(t, resp.Groups, 1)
}

func TestRemoveBuddyGroup_DeletesAndRejectsUnknown(t *testing.T) {
	app := newTestApp(t)
	insertStorageNode(t, app, 1)
	insertStorageNode(t, app, 2)
	ch1, conn1 := newTestChannel(t)
	primary := registerStorageTarget(t, app, ch1, conn1, 1, 0)
	ch2, conn2 := newTestChannel(t)
	secondary := registerStorageTarget(t, app, ch2, conn2, 2, 0)

	setCh, setConn := newTestChannel(t)
	require.NoError(t, SetMirrorBuddyGroup(context.Background(), app, setCh, wire.Header{},
		wire.EncodeSetMirrorBuddyGroupRequest(wire.SetMirrorBuddyGroupRequest{
			NodeType: string(types.NodeStorage), PrimaryTargetID: primary, SecondaryTargetID: secondary,
		})))
	_, mapBody, err := wire.ReadStreamFrame(setConn)
	require.NoError(t, err)
	mapping, err := wire.DecodeBuddyGroupMapping(mapBody)
	require.NoError(t, err)

	removeCh, removeConn := newTestChannel(t)
	require.NoError(t, RemoveBuddyGroup(context.Background(), app, removeCh, wire.Header{},
		wire.EncodeRemoveBuddyGroupRequest(wire.RemoveBuddyGroupRequest{NodeType: string(types.NodeStorage), GroupID: mapping.GroupID})))
	h, body, err := wire.ReadStreamFrame(removeConn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgRemoveBuddyGroupResp), h.MsgID)
	resp, err := wire.DecodeResultResponse(body)
	require.NoError(t, err)
	assert.Equal(t, wire.ResultSuccess, resp.Result)

	again, _ := newTestChannel(t)
	err = RemoveBuddyGroup(context.Background(), app, again, wire.Header{},
		wire.EncodeRemoveBuddyGroupRequest(wire.RemoveBuddyGroupRequest{NodeType: string(types.NodeStorage), GroupID: mapping.GroupID}))
	require.Error(t, err)
}

func TestGetStatesAndBuddyGroups_CombinesTopologyAndMarksRequesterPulled(t *testing.T) {
	app := newTestApp(t)
	insertStorageNode(t, app, 1)
	insertStorageNode(t, app, 2)
	ch1, conn1 := newTestChannel(t)
	primary := registerStorageTarget(t, app, ch1, conn1, 1, 0)
	ch2, conn2 := newTestChannel(t)
	secondary := registerStorageTarget(t, app, ch2, conn2, 2, 0)

	setCh, setConn := newTestChannel(t)
	require.NoError(t, SetMirrorBuddyGroup(context.Background(), app, setCh, wire.Header{},
		wire.EncodeSetMirrorBuddyGroupRequest(wire.SetMirrorBuddyGroupRequest{
			NodeType: string(types.NodeStorage), PrimaryTargetID: primary, SecondaryTargetID: secondary,
		})))
	_, _, err := wire.ReadStreamFrame(setConn)
	require.NoError(t, err)

	clientUid, err := store.WriteTx(context.Background(), app.Store, func(tx *sql.Tx) (types.Uid, error) {
		uid, err := store.NextUid(tx)
		if err != nil {
			return 0, err
		}
		return uid, store.InsertNode(tx, types.Node{Uid: uid, NumID: 9, Type: types.NodeClient, LastContact: time.Now()})
	})
	require.NoError(t, err)

	queryCh, queryConn := newTestChannel(t)
	require.NoError(t, GetStatesAndBuddyGroups(context.Background(), app, queryCh, wire.Header{},
		wire.EncodeGetStatesAndBuddyGroupsRequest(wire.GetStatesAndBuddyGroupsRequest{
			NodeType: string(types.NodeStorage), RequestedByClientNumID: 9,
		})))
	h, body, err := wire.ReadStreamFrame(queryConn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgGetStatesAndBuddyGroupsResp), h.MsgID)
	resp, err := wire.DecodeGetStatesAndBuddyGroupsResponse(body)
	require.NoError(t, err)
	require.Len(t, resp.Groups, 1)
	require.Len(t, resp.States, 2)

	assert.True(t, app.Pulled.HasPulled(clientUid))
}

func TestQuota_DefaultAndExceeded(t *testing.T) {
	app := newTestApp(t)
	app.Static.Config.Quota.Enabled = true

	setCh, setConn := newTestChannel(t)
	require.NoError(t, SetDefaultQuota(context.Background(), app, setCh, wire.Header{},
		wire.EncodeSetDefaultQuotaRequest(wire.SetDefaultQuotaRequest{
			PoolID: types.DefaultPoolID, IDType: string(types.IDTypeUser), QuotaType: string(types.QuotaSpace), Value: 1000,
		})))
	_, _, err := wire.ReadStreamFrame(setConn)
	require.NoError(t, err)

	getCh, getConn := newTestChannel(t)
	require.NoError(t, GetDefaultQuota(context.Background(), app, getCh, wire.Header{},
		wire.EncodeGetDefaultQuotaRequest(wire.GetDefaultQuotaRequest{
			PoolID: types.DefaultPoolID, IDType: string(types.IDTypeUser), QuotaType: string(types.QuotaSpace),
		})))
	h, body, err := wire.ReadStreamFrame(getConn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgGetDefaultQuotaResp), h.MsgID)
	resp, err := wire.DecodeGetDefaultQuotaResponse(body)
	require.NoError(t, err)
	assert.True(t, resp.IsSet)
	assert.Equal(t, uint64(1000), resp.Value)

	exCh, _ := newTestChannel(t)
	err = RequestExceededQuota(context.Background(), app, exCh, wire.Header{},
		wire.EncodeRequestExceededQuotaRequest(wire.RequestExceededQuotaRequest{
			PoolID: types.DefaultPoolID, IDType: string(types.IDTypeUser), QuotaType: string(types.QuotaSpace),
		}))
	require.NoError(t, err)
}

func TestRequestExceededQuota_RefusesWhenDisabled(t *testing.T) {
	app := newTestApp(t)
	ch, _ := newTestChannel(t)
	err := RequestExceededQuota(context.Background(), app, ch, wire.Header{},
		wire.EncodeRequestExceededQuotaRequest(wire.RequestExceededQuotaRequest{
			PoolID: types.DefaultPoolID, IDType: string(types.IDTypeUser), QuotaType: string(types.QuotaSpace),
		}))
	require.Error(t, err)
}
