package wire

// MsgID identifies a legacy message's body schema. The set is closed: an
// id not in this table is rejected by the dispatcher with a generic
// "unhandled message" response rather than decoded blindly.
type MsgID uint16

const (
	MsgAck                   MsgID = 2001
	MsgAuthenticateChannel   MsgID = 2002
	MsgSetChannelDirect      MsgID = 2003
	MsgPeerInfo              MsgID = 2004
	MsgGenericResponse       MsgID = 2005

	MsgHeartbeatRequest MsgID = 1019
	MsgHeartbeat        MsgID = 1020
	MsgRemoveNode       MsgID = 1013
	MsgRemoveNodeResp   MsgID = 1014
	MsgGetNodes         MsgID = 1017
	MsgGetNodesResp     MsgID = 1018
	MsgRegisterNode     MsgID = 1039
	MsgRegisterNodeResp MsgID = 1040

	MsgMapTargets             MsgID = 1023
	MsgMapTargetsResp         MsgID = 1024
	MsgGetTargetMappings      MsgID = 1025
	MsgGetTargetMappingsResp  MsgID = 1026
	MsgRefreshTargetStates       MsgID = 1051
	MsgGetTargetStates           MsgID = 1049
	MsgGetTargetStatesResp       MsgID = 1050
	MsgSetTargetConsistencyStates     MsgID = 1055
	MsgSetTargetConsistencyStatesResp MsgID = 1056
	MsgChangeTargetConsistencyStates     MsgID = 1057
	MsgChangeTargetConsistencyStatesResp MsgID = 1058
	MsgUnmapTarget       MsgID = 1059
	MsgUnmapTargetResp   MsgID = 1062
	MsgRegisterTarget     MsgID = 1041
	MsgRegisterTargetResp MsgID = 1042
	MsgSetStorageTargetInfo     MsgID = 2099
	MsgSetStorageTargetInfoResp MsgID = 2100

	MsgSetMirrorBuddyGroup       MsgID = 1045
	MsgSetMirrorBuddyGroupResp   MsgID = 1046
	MsgGetMirrorBuddyGroups      MsgID = 1047
	MsgGetMirrorBuddyGroupsResp  MsgID = 1048
	MsgGetStatesAndBuddyGroups     MsgID = 1053
	MsgGetStatesAndBuddyGroupsResp MsgID = 1054
	MsgRemoveBuddyGroup     MsgID = 1060
	MsgRemoveBuddyGroupResp MsgID = 1061
	MsgSetMetadataMirroring     MsgID = 2069
	MsgSetMetadataMirroringResp MsgID = 2070
	MsgGetStorageResyncStats     MsgID = 2093
	MsgGetStorageResyncStatsResp MsgID = 2094
	MsgGetMetaResyncStats     MsgID = 2117
	MsgGetMetaResyncStatsResp MsgID = 2118
	MsgSetLastBuddyCommOverride     MsgID = 2095
	MsgSetLastBuddyCommOverrideResp MsgID = 2096

	MsgAddStoragePool        MsgID = 2101
	MsgAddStoragePoolResp    MsgID = 2102
	MsgModifyStoragePool     MsgID = 2103
	MsgModifyStoragePoolResp MsgID = 2104
	MsgRemoveStoragePool     MsgID = 2105
	MsgRemoveStoragePoolResp MsgID = 2106
	MsgGetStoragePools       MsgID = 2107
	MsgGetStoragePoolsResp   MsgID = 2108
	MsgGetNodeCapacityPools     MsgID = 1027
	MsgGetNodeCapacityPoolsResp MsgID = 1028
	MsgRefreshStoragePools MsgID = 2109
	MsgRefreshCapacityPools MsgID = 1029

	MsgSetQuota               MsgID = 2071
	MsgSetQuotaResp           MsgID = 2072
	MsgGetQuotaInfo           MsgID = 2097
	MsgGetQuotaInfoResp       MsgID = 2098
	MsgSetDefaultQuota        MsgID = 2073
	MsgSetDefaultQuotaResp    MsgID = 2074
	MsgGetDefaultQuota        MsgID = 2075
	MsgGetDefaultQuotaResp    MsgID = 2076
	MsgRequestExceededQuota     MsgID = 2079
	MsgRequestExceededQuotaResp MsgID = 2080
	MsgSetExceededQuota         MsgID = 2077
	MsgSetExceededQuotaResp     MsgID = 2078
)

// GenericResponseCode is the result field of GenericResponse, used for
// messages that have no dedicated typed response.
type GenericResponseCode uint32

const (
	GenericSuccess GenericResponseCode = iota
	GenericTryAgain
	GenericNotExists
	GenericInternalError
)

// ResponseResult is the typed-response result field shared by messages
// that do have a dedicated response schema.
type ResponseResult uint32

const (
	ResultSuccess ResponseResult = iota
	ResultInternal
	ResultInval
	ResultExists
	ResultUnknownPool
	ResultAgain
)

// knownMsgIDs is the closed set the dispatcher consults before decoding a
// body; an id missing from this set is "unhandled" regardless of whether
// its numeric value happens to collide with a real schema.
var knownMsgIDs = map[MsgID]struct{}{
	MsgAck: {}, MsgAuthenticateChannel: {}, MsgSetChannelDirect: {}, MsgPeerInfo: {}, MsgGenericResponse: {},
	MsgHeartbeatRequest: {}, MsgHeartbeat: {}, MsgRemoveNode: {}, MsgRemoveNodeResp: {},
	MsgGetNodes: {}, MsgGetNodesResp: {}, MsgRegisterNode: {}, MsgRegisterNodeResp: {},
	MsgMapTargets: {}, MsgMapTargetsResp: {}, MsgGetTargetMappings: {}, MsgGetTargetMappingsResp: {},
	MsgRefreshTargetStates: {}, MsgGetTargetStates: {}, MsgGetTargetStatesResp: {},
	MsgSetTargetConsistencyStates: {}, MsgSetTargetConsistencyStatesResp: {},
	MsgChangeTargetConsistencyStates: {}, MsgChangeTargetConsistencyStatesResp: {},
	MsgUnmapTarget: {}, MsgUnmapTargetResp: {}, MsgRegisterTarget: {}, MsgRegisterTargetResp: {},
	MsgSetStorageTargetInfo: {}, MsgSetStorageTargetInfoResp: {},
	MsgSetMirrorBuddyGroup: {}, MsgSetMirrorBuddyGroupResp: {},
	MsgGetMirrorBuddyGroups: {}, MsgGetMirrorBuddyGroupsResp: {},
	MsgGetStatesAndBuddyGroups: {}, MsgGetStatesAndBuddyGroupsResp: {},
	MsgRemoveBuddyGroup: {}, MsgRemoveBuddyGroupResp: {},
	MsgSetMetadataMirroring: {}, MsgSetMetadataMirroringResp: {},
	MsgGetStorageResyncStats: {}, MsgGetStorageResyncStatsResp: {},
	MsgGetMetaResyncStats: {}, MsgGetMetaResyncStatsResp: {},
	MsgSetLastBuddyCommOverride: {}, MsgSetLastBuddyCommOverrideResp: {},
	MsgAddStoragePool: {}, MsgAddStoragePoolResp: {}, MsgModifyStoragePool: {}, MsgModifyStoragePoolResp: {},
	MsgRemoveStoragePool: {}, MsgRemoveStoragePoolResp: {}, MsgGetStoragePools: {}, MsgGetStoragePoolsResp: {},
	MsgGetNodeCapacityPools: {}, MsgGetNodeCapacityPoolsResp: {}, MsgRefreshStoragePools: {}, MsgRefreshCapacityPools: {},
	MsgSetQuota: {}, MsgSetQuotaResp: {}, MsgGetQuotaInfo: {}, MsgGetQuotaInfoResp: {},
	MsgSetDefaultQuota: {}, MsgSetDefaultQuotaResp: {}, MsgGetDefaultQuota: {}, MsgGetDefaultQuotaResp: {},
	MsgRequestExceededQuota: {}, MsgRequestExceededQuotaResp: {}, MsgSetExceededQuota: {}, MsgSetExceededQuotaResp: {},
}

// Known reports whether id belongs to the closed set of supported legacy
// message ids.
func (id MsgID) Known() bool {
	_, ok := knownMsgIDs[id]
	return ok
}

// EncodeGenericResponse builds the body of a GenericResponse message: a
// result code followed by a human-readable description, the fallback
// reply for messages with no dedicated typed response.
func EncodeGenericResponse(code GenericResponseCode, description string) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.U32(uint32(code))
	e.CStr([]byte(description), FieldHint{})

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// DecodeGenericResponse parses a GenericResponse body.
func DecodeGenericResponse(body []byte) (GenericResponseCode, string, error) {
	d := NewDecoder(body)
	code, err := d.U32()
	if err != nil {
		return 0, "", err
	}
	desc, err := d.CStr(FieldHint{})
	if err != nil {
		return 0, "", err
	}
	if err := d.RemainingOrErr(); err != nil {
		return 0, "", err
	}
	return GenericResponseCode(code), string(desc), nil
}
