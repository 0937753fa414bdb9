package handlers

import (
	"github.com/beegfs-io/mgmtd/pkg/dispatch"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// Register builds the full legacy message dispatch table.
//
// MsgMapTargets, MsgGetTargetMappings, and MsgUnmapTarget are part of the
// closed known-id set (so they get a clean "unhandled" generic response
// instead of a decode error) but deliberately have no handler here: they
// describe a direct node-to-target mapping that predates buddy mirroring,
// and every target in this schema already carries its owning node_uid
// from RegisterTarget, leaving no separate mapping step to perform.
func Register() *dispatch.Table[*Context] {
	t := dispatch.NewTable[*Context]()

	t.Register(wire.MsgAck, Ack)
	t.Register(wire.MsgAuthenticateChannel, AuthenticateChannel)
	t.Register(wire.MsgSetChannelDirect, SetChannelDirect)
	t.Register(wire.MsgPeerInfo, PeerInfo)
	t.Register(wire.MsgRefreshCapacityPools, RefreshCapacityPools)

	t.Register(wire.MsgRegisterNode, RegisterNode)
	t.Register(wire.MsgHeartbeat, Heartbeat)
	t.Register(wire.MsgHeartbeatRequest, HeartbeatRequest)
	t.Register(wire.MsgGetNodes, GetNodes)
	t.Register(wire.MsgRemoveNode, RemoveNode)

	t.Register(wire.MsgRegisterTarget, RegisterTarget)
	t.Register(wire.MsgSetStorageTargetInfo, SetStorageTargetInfo)
	t.Register(wire.MsgSetTargetConsistencyStates, SetTargetConsistencyStates)
	t.Register(wire.MsgChangeTargetConsistencyStates, ChangeTargetConsistencyStates)
	t.Register(wire.MsgGetTargetStates, GetTargetStates)
	t.Register(wire.MsgGetNodeCapacityPools, GetNodeCapacityPools)

	t.Register(wire.MsgSetMirrorBuddyGroup, SetMirrorBuddyGroup)
	t.Register(wire.MsgGetMirrorBuddyGroups, GetMirrorBuddyGroups)
	t.Register(wire.MsgGetStatesAndBuddyGroups, GetStatesAndBuddyGroups)
	t.Register(wire.MsgRemoveBuddyGroup, RemoveBuddyGroup)

	t.Register(wire.MsgAddStoragePool, AddStoragePool)
	t.Register(wire.MsgRemoveStoragePool, RemoveStoragePool)
	t.Register(wire.MsgGetStoragePools, GetStoragePools)

	t.Register(wire.MsgSetQuota, SetQuota)
	t.Register(wire.MsgSetDefaultQuota, SetDefaultQuota)
	t.Register(wire.MsgGetDefaultQuota, GetDefaultQuota)
	t.Register(wire.MsgRequestExceededQuota, RequestExceededQuota)

	return t
}
