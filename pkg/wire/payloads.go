package wire

// This file defines the body schema for every legacy message this
// implementation handles (as opposed to merely enumerating, see
// messages.go). Each schema is a plain struct plus an Encode*/Decode*
// pair built on Encoder/Decoder; field order is the wire order.

// NicInfo is one network interface entry as carried in node
// registration, heartbeat, and GetNodes bodies.
type NicInfo struct {
	Address string
	Name    string
	Type    string
}

func encodeNic(e *Encoder, n NicInfo) {
	e.CStr([]byte(n.Address), FieldHint{})
	e.CStr([]byte(n.Name), FieldHint{})
	e.CStr([]byte(n.Type), FieldHint{})
}

func decodeNic(d *Decoder) (NicInfo, error) {
	addr, err := d.CStr(FieldHint{})
	if err != nil {
		return NicInfo{}, err
	}
	name, err := d.CStr(FieldHint{})
	if err != nil {
		return NicInfo{}, err
	}
	typ, err := d.CStr(FieldHint{})
	if err != nil {
		return NicInfo{}, err
	}
	return NicInfo{Address: string(addr), Name: string(name), Type: string(typ)}, nil
}

func encodeNics(e *Encoder, nics []NicInfo) {
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, n := range nics {
		encodeNic(e, n)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(nics)))
}

func decodeNics(d *Decoder) ([]NicInfo, error) {
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return nil, err
	}
	out := make([]NicInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		nic, err := decodeNic(d)
		if err != nil {
			return nil, err
		}
		out = append(out, nic)
	}
	return out, nil
}

// NodeRegistration is the body of RegisterNode: a node announcing or
// re-announcing itself.
type NodeRegistration struct {
	NumID          uint32 // 0 requests allocation
	NodeType       string
	Port           uint16
	MachineUUID    string
	RequestedAlias string // clients only, may be empty
	Nics           []NicInfo
}

func EncodeNodeRegistration(r NodeRegistration) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U32(r.NumID)
	e.CStr([]byte(r.NodeType), FieldHint{})
	e.U16(r.Port)
	e.CStr([]byte(r.MachineUUID), FieldHint{})
	e.CStr([]byte(r.RequestedAlias), FieldHint{})
	encodeNics(e, r.Nics)
	return cloneBytes(e)
}

func DecodeNodeRegistration(body []byte) (NodeRegistration, error) {
	d := NewDecoder(body)
	var r NodeRegistration
	var err error
	if r.NumID, err = d.U32(); err != nil {
		return r, err
	}
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.Port, err = d.U16(); err != nil {
		return r, err
	}
	if r.MachineUUID, err = readCStr(d); err != nil {
		return r, err
	}
	if r.RequestedAlias, err = readCStr(d); err != nil {
		return r, err
	}
	if r.Nics, err = decodeNics(d); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// NodeRegistrationResp is RegisterNode's typed response.
type NodeRegistrationResp struct {
	AssignedNumID uint32
	Result        ResponseResult
}

func EncodeNodeRegistrationResp(r NodeRegistrationResp) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U32(r.AssignedNumID)
	e.U32(uint32(r.Result))
	return cloneBytes(e)
}

func DecodeNodeRegistrationResp(body []byte) (NodeRegistrationResp, error) {
	d := NewDecoder(body)
	numID, err := d.U32()
	if err != nil {
		return NodeRegistrationResp{}, err
	}
	result, err := d.U32()
	if err != nil {
		return NodeRegistrationResp{}, err
	}
	return NodeRegistrationResp{AssignedNumID: numID, Result: ResponseResult(result)}, d.RemainingOrErr()
}

// Heartbeat is broadcast whenever a node is created or its registration
// is refreshed, so peers learn the new/updated mapping.
type Heartbeat struct {
	Uid         uint64
	NumID       uint32
	NodeType    string
	Port        uint16
	Alias       string
	MachineUUID string
	Nics        []NicInfo
}

func EncodeHeartbeat(h Heartbeat) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U64(h.Uid)
	e.U32(h.NumID)
	e.CStr([]byte(h.NodeType), FieldHint{})
	e.U16(h.Port)
	e.CStr([]byte(h.Alias), FieldHint{})
	e.CStr([]byte(h.MachineUUID), FieldHint{})
	encodeNics(e, h.Nics)
	return cloneBytes(e)
}

func DecodeHeartbeat(body []byte) (Heartbeat, error) {
	d := NewDecoder(body)
	var h Heartbeat
	var err error
	if h.Uid, err = d.U64(); err != nil {
		return h, err
	}
	if h.NumID, err = d.U32(); err != nil {
		return h, err
	}
	if h.NodeType, err = readCStr(d); err != nil {
		return h, err
	}
	if h.Port, err = d.U16(); err != nil {
		return h, err
	}
	if h.Alias, err = readCStr(d); err != nil {
		return h, err
	}
	if h.MachineUUID, err = readCStr(d); err != nil {
		return h, err
	}
	if h.Nics, err = decodeNics(d); err != nil {
		return h, err
	}
	return h, d.RemainingOrErr()
}

// RemoveNodeRequest is the body of RemoveNode. The legacy path only
// accepts client removals; server removals go through the structured RPC.
type RemoveNodeRequest struct {
	NodeType string
	NumID    uint32
}

func EncodeRemoveNodeRequest(r RemoveNodeRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	e.U32(r.NumID)
	return cloneBytes(e)
}

func DecodeRemoveNodeRequest(body []byte) (RemoveNodeRequest, error) {
	d := NewDecoder(body)
	var r RemoveNodeRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.NumID, err = d.U32(); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// NodeInfo is one entry of GetNodesResp.
type NodeInfo struct {
	Uid   uint64
	NumID uint32
	Alias string
	Port  uint16
	Nics  []NicInfo
}

// GetNodesRequest is the body of GetNodes.
type GetNodesRequest struct {
	NodeType string
}

func EncodeGetNodesRequest(r GetNodesRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	return cloneBytes(e)
}

func DecodeGetNodesRequest(body []byte) (GetNodesRequest, error) {
	d := NewDecoder(body)
	nodeType, err := readCStr(d)
	if err != nil {
		return GetNodesRequest{}, err
	}
	return GetNodesRequest{NodeType: nodeType}, d.RemainingOrErr()
}

// GetNodesResponse is GetNodes' typed response.
type GetNodesResponse struct {
	Nodes []NodeInfo
}

func EncodeGetNodesResponse(r GetNodesResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, n := range r.Nodes {
		e.U64(n.Uid)
		e.U32(n.NumID)
		e.CStr([]byte(n.Alias), FieldHint{})
		e.U16(n.Port)
		encodeNics(e, n.Nics)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Nodes)))
	return cloneBytes(e)
}

func DecodeGetNodesResponse(body []byte) (GetNodesResponse, error) {
	d := NewDecoder(body)
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return GetNodesResponse{}, err
	}
	nodes := make([]NodeInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		var ni NodeInfo
		if ni.Uid, err = d.U64(); err != nil {
			return GetNodesResponse{}, err
		}
		if ni.NumID, err = d.U32(); err != nil {
			return GetNodesResponse{}, err
		}
		if ni.Alias, err = readCStr(d); err != nil {
			return GetNodesResponse{}, err
		}
		if ni.Port, err = d.U16(); err != nil {
			return GetNodesResponse{}, err
		}
		if ni.Nics, err = decodeNics(d); err != nil {
			return GetNodesResponse{}, err
		}
		nodes = append(nodes, ni)
	}
	return GetNodesResponse{Nodes: nodes}, d.RemainingOrErr()
}

// RegisterTargetRequest is the body of RegisterTarget.
type RegisterTargetRequest struct {
	NodeType  string
	NodeNumID uint32
	TargetID  uint16 // 0 requests allocation
}

func EncodeRegisterTargetRequest(r RegisterTargetRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	e.U32(r.NodeNumID)
	e.U16(r.TargetID)
	return cloneBytes(e)
}

func DecodeRegisterTargetRequest(body []byte) (RegisterTargetRequest, error) {
	d := NewDecoder(body)
	var r RegisterTargetRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.NodeNumID, err = d.U32(); err != nil {
		return r, err
	}
	if r.TargetID, err = d.U16(); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// RegisterTargetResponse is RegisterTarget's typed response.
type RegisterTargetResponse struct {
	AssignedTargetID uint16
	Result           ResponseResult
}

func EncodeRegisterTargetResponse(r RegisterTargetResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.AssignedTargetID)
	e.U32(uint32(r.Result))
	return cloneBytes(e)
}

func DecodeRegisterTargetResponse(body []byte) (RegisterTargetResponse, error) {
	d := NewDecoder(body)
	id, err := d.U16()
	if err != nil {
		return RegisterTargetResponse{}, err
	}
	result, err := d.U32()
	if err != nil {
		return RegisterTargetResponse{}, err
	}
	return RegisterTargetResponse{AssignedTargetID: id, Result: ResponseResult(result)}, d.RemainingOrErr()
}

// TargetCapacityReport is one element of SetStorageTargetInfo's batch.
type TargetCapacityReport struct {
	TargetID    uint16
	TotalSpace  uint64
	FreeSpace   uint64
	TotalInodes uint64
	FreeInodes  uint64
	Consistency string
}

// SetStorageTargetInfoRequest is the body of SetStorageTargetInfo: a
// capacity report batch.
type SetStorageTargetInfoRequest struct {
	NodeType string
	Targets  []TargetCapacityReport
}

func EncodeSetStorageTargetInfoRequest(r SetStorageTargetInfoRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, t := range r.Targets {
		e.U16(t.TargetID)
		e.U64(t.TotalSpace)
		e.U64(t.FreeSpace)
		e.U64(t.TotalInodes)
		e.U64(t.FreeInodes)
		e.CStr([]byte(t.Consistency), FieldHint{})
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Targets)))
	return cloneBytes(e)
}

func DecodeSetStorageTargetInfoRequest(body []byte) (SetStorageTargetInfoRequest, error) {
	d := NewDecoder(body)
	var r SetStorageTargetInfoRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.Targets = make([]TargetCapacityReport, 0, n)
	for i := uint32(0); i < n; i++ {
		var t TargetCapacityReport
		if t.TargetID, err = d.U16(); err != nil {
			return r, err
		}
		if t.TotalSpace, err = d.U64(); err != nil {
			return r, err
		}
		if t.FreeSpace, err = d.U64(); err != nil {
			return r, err
		}
		if t.TotalInodes, err = d.U64(); err != nil {
			return r, err
		}
		if t.FreeInodes, err = d.U64(); err != nil {
			return r, err
		}
		if t.Consistency, err = readCStr(d); err != nil {
			return r, err
		}
		r.Targets = append(r.Targets, t)
	}
	return r, d.RemainingOrErr()
}

// ResultResponse is the bare (just a result code) typed response shared
// by SetStorageTargetInfo, SetTargetConsistencyStates, and
// ChangeTargetConsistencyStates.
type ResultResponse struct {
	Result ResponseResult
}

func EncodeResultResponse(r ResultResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U32(uint32(r.Result))
	return cloneBytes(e)
}

func DecodeResultResponse(body []byte) (ResultResponse, error) {
	d := NewDecoder(body)
	result, err := d.U32()
	if err != nil {
		return ResultResponse{}, err
	}
	return ResultResponse{Result: ResponseResult(result)}, d.RemainingOrErr()
}

// TargetConsistency is one element of a target consistency batch update
// or query response.
type TargetConsistency struct {
	TargetID    uint16
	Consistency string
}

// SetTargetConsistencyStatesRequest is shared by
// SetTargetConsistencyStates and ChangeTargetConsistencyStates: both
// carry a batch of (target, consistency) pairs and a set_online flag.
type SetTargetConsistencyStatesRequest struct {
	NodeType  string
	SetOnline bool
	Targets   []TargetConsistency
}

func EncodeSetTargetConsistencyStatesRequest(r SetTargetConsistencyStatesRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	if r.SetOnline {
		e.U8(1)
	} else {
		e.U8(0)
	}
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, t := range r.Targets {
		e.U16(t.TargetID)
		e.CStr([]byte(t.Consistency), FieldHint{})
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Targets)))
	return cloneBytes(e)
}

func DecodeSetTargetConsistencyStatesRequest(body []byte) (SetTargetConsistencyStatesRequest, error) {
	d := NewDecoder(body)
	var r SetTargetConsistencyStatesRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	online, err := d.U8()
	if err != nil {
		return r, err
	}
	r.SetOnline = online != 0
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.Targets = make([]TargetConsistency, 0, n)
	for i := uint32(0); i < n; i++ {
		var t TargetConsistency
		if t.TargetID, err = d.U16(); err != nil {
			return r, err
		}
		if t.Consistency, err = readCStr(d); err != nil {
			return r, err
		}
		r.Targets = append(r.Targets, t)
	}
	return r, d.RemainingOrErr()
}

// GetTargetStatesRequest is the body of GetTargetStates.
type GetTargetStatesRequest struct {
	NodeType string
}

func EncodeGetTargetStatesRequest(r GetTargetStatesRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	return cloneBytes(e)
}

func DecodeGetTargetStatesRequest(body []byte) (GetTargetStatesRequest, error) {
	d := NewDecoder(body)
	nodeType, err := readCStr(d)
	if err != nil {
		return GetTargetStatesRequest{}, err
	}
	return GetTargetStatesRequest{NodeType: nodeType}, d.RemainingOrErr()
}

// TargetState is one element of GetTargetStates' response: the
// consistency state management tracks for the target, plus a reachability
// state derived from the owning node's last contact time at query time.
type TargetState struct {
	TargetID     uint16
	Consistency  string
	Reachability string // "Online", "ProbablyOffline", or "Offline"
}

// GetTargetStatesResponse is GetTargetStates' typed response.
type GetTargetStatesResponse struct {
	Targets []TargetState
}

func EncodeGetTargetStatesResponse(r GetTargetStatesResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, t := range r.Targets {
		e.U16(t.TargetID)
		e.CStr([]byte(t.Consistency), FieldHint{})
		e.CStr([]byte(t.Reachability), FieldHint{})
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Targets)))
	return cloneBytes(e)
}

func DecodeGetTargetStatesResponse(body []byte) (GetTargetStatesResponse, error) {
	d := NewDecoder(body)
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return GetTargetStatesResponse{}, err
	}
	targets := make([]TargetState, 0, n)
	for i := uint32(0); i < n; i++ {
		var t TargetState
		if t.TargetID, err = d.U16(); err != nil {
			return GetTargetStatesResponse{}, err
		}
		if t.Consistency, err = readCStr(d); err != nil {
			return GetTargetStatesResponse{}, err
		}
		if t.Reachability, err = readCStr(d); err != nil {
			return GetTargetStatesResponse{}, err
		}
		targets = append(targets, t)
	}
	return GetTargetStatesResponse{Targets: targets}, d.RemainingOrErr()
}

// SetMirrorBuddyGroupRequest is the body of SetMirrorBuddyGroup: a
// buddy-group creation request.
type SetMirrorBuddyGroupRequest struct {
	NodeType        string
	GroupID         uint16 // 0 requests allocation
	PrimaryTargetID uint16
	SecondaryTargetID uint16
}

func EncodeSetMirrorBuddyGroupRequest(r SetMirrorBuddyGroupRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	e.U16(r.GroupID)
	e.U16(r.PrimaryTargetID)
	e.U16(r.SecondaryTargetID)
	return cloneBytes(e)
}

func DecodeSetMirrorBuddyGroupRequest(body []byte) (SetMirrorBuddyGroupRequest, error) {
	d := NewDecoder(body)
	var r SetMirrorBuddyGroupRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.GroupID, err = d.U16(); err != nil {
		return r, err
	}
	if r.PrimaryTargetID, err = d.U16(); err != nil {
		return r, err
	}
	if r.SecondaryTargetID, err = d.U16(); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// BuddyGroupMapping describes one buddy group's current mapping: the
// typed response to SetMirrorBuddyGroup, an element of
// GetMirrorBuddyGroupsResp, and the switchover broadcast payload.
type BuddyGroupMapping struct {
	GroupUid     uint64
	GroupID      uint16
	NodeType     string
	PrimaryUid   uint64
	SecondaryUid uint64
	PoolUid      uint64 // 0 if not applicable (meta groups)
}

func EncodeBuddyGroupMapping(m BuddyGroupMapping) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	encodeBuddyGroupMapping(e, m)
	return cloneBytes(e)
}

func encodeBuddyGroupMapping(e *Encoder, m BuddyGroupMapping) {
	e.U64(m.GroupUid)
	e.U16(m.GroupID)
	e.CStr([]byte(m.NodeType), FieldHint{})
	e.U64(m.PrimaryUid)
	e.U64(m.SecondaryUid)
	e.U64(m.PoolUid)
}

func decodeBuddyGroupMapping(d *Decoder) (BuddyGroupMapping, error) {
	var m BuddyGroupMapping
	var err error
	if m.GroupUid, err = d.U64(); err != nil {
		return m, err
	}
	if m.GroupID, err = d.U16(); err != nil {
		return m, err
	}
	if m.NodeType, err = readCStr(d); err != nil {
		return m, err
	}
	if m.PrimaryUid, err = d.U64(); err != nil {
		return m, err
	}
	if m.SecondaryUid, err = d.U64(); err != nil {
		return m, err
	}
	if m.PoolUid, err = d.U64(); err != nil {
		return m, err
	}
	return m, nil
}

func DecodeBuddyGroupMapping(body []byte) (BuddyGroupMapping, error) {
	d := NewDecoder(body)
	m, err := decodeBuddyGroupMapping(d)
	if err != nil {
		return m, err
	}
	return m, d.RemainingOrErr()
}

// GetMirrorBuddyGroupsRequest is the body of GetMirrorBuddyGroups.
type GetMirrorBuddyGroupsRequest struct {
	NodeType string
}

func EncodeGetMirrorBuddyGroupsRequest(r GetMirrorBuddyGroupsRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	return cloneBytes(e)
}

func DecodeGetMirrorBuddyGroupsRequest(body []byte) (GetMirrorBuddyGroupsRequest, error) {
	d := NewDecoder(body)
	nodeType, err := readCStr(d)
	if err != nil {
		return GetMirrorBuddyGroupsRequest{}, err
	}
	return GetMirrorBuddyGroupsRequest{NodeType: nodeType}, d.RemainingOrErr()
}

// GetMirrorBuddyGroupsResponse is GetMirrorBuddyGroups' typed response.
type GetMirrorBuddyGroupsResponse struct {
	Groups []BuddyGroupMapping
}

func EncodeGetMirrorBuddyGroupsResponse(r GetMirrorBuddyGroupsResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, g := range r.Groups {
		encodeBuddyGroupMapping(e, g)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Groups)))
	return cloneBytes(e)
}

func DecodeGetMirrorBuddyGroupsResponse(body []byte) (GetMirrorBuddyGroupsResponse, error) {
	d := NewDecoder(body)
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return GetMirrorBuddyGroupsResponse{}, err
	}
	groups := make([]BuddyGroupMapping, 0, n)
	for i := uint32(0); i < n; i++ {
		g, err := decodeBuddyGroupMapping(d)
		if err != nil {
			return GetMirrorBuddyGroupsResponse{}, err
		}
		groups = append(groups, g)
	}
	return GetMirrorBuddyGroupsResponse{Groups: groups}, d.RemainingOrErr()
}

// RemoveBuddyGroupRequest is the body of RemoveBuddyGroup.
type RemoveBuddyGroupRequest struct {
	NodeType string
	GroupID  uint16
}

func EncodeRemoveBuddyGroupRequest(r RemoveBuddyGroupRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	e.U16(r.GroupID)
	return cloneBytes(e)
}

func DecodeRemoveBuddyGroupRequest(body []byte) (RemoveBuddyGroupRequest, error) {
	d := NewDecoder(body)
	var r RemoveBuddyGroupRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.GroupID, err = d.U16(); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// GetStatesAndBuddyGroupsRequest is the body of GetStatesAndBuddyGroups: a
// combined buddy-group-mapping and target-state query. The requester's own
// client num_id rides along in the request itself, since the legacy
// transport never identifies which client sent a message at the header
// level; this is what lets the handler mark the requester as having
// observed the current topology.
type GetStatesAndBuddyGroupsRequest struct {
	NodeType               string
	RequestedByClientNumID uint32
}

func EncodeGetStatesAndBuddyGroupsRequest(r GetStatesAndBuddyGroupsRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.NodeType), FieldHint{})
	e.U32(r.RequestedByClientNumID)
	return cloneBytes(e)
}

func DecodeGetStatesAndBuddyGroupsRequest(body []byte) (GetStatesAndBuddyGroupsRequest, error) {
	d := NewDecoder(body)
	var r GetStatesAndBuddyGroupsRequest
	var err error
	if r.NodeType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.RequestedByClientNumID, err = d.U32(); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// BuddyGroupTargets is one element of GetStatesAndBuddyGroupsResp's group
// mapping: the pair of targets making up group GroupID.
type BuddyGroupTargets struct {
	GroupID           uint16
	PrimaryTargetID   uint16
	SecondaryTargetID uint16
}

// GetStatesAndBuddyGroupsResponse is GetStatesAndBuddyGroups' typed
// response: every group's target mapping, alongside every target's
// combined reachability/consistency state.
type GetStatesAndBuddyGroupsResponse struct {
	Groups []BuddyGroupTargets
	States []TargetState
}

func EncodeGetStatesAndBuddyGroupsResponse(r GetStatesAndBuddyGroupsResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	gSizeOff, gCountOff, gBodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, g := range r.Groups {
		e.U16(g.GroupID)
		e.U16(g.PrimaryTargetID)
		e.U16(g.SecondaryTargetID)
	}
	e.SeqEnd(gSizeOff, gCountOff, gBodyStart, uint32(len(r.Groups)))

	sSizeOff, sCountOff, sBodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, s := range r.States {
		e.U16(s.TargetID)
		e.CStr([]byte(s.Consistency), FieldHint{})
		e.CStr([]byte(s.Reachability), FieldHint{})
	}
	e.SeqEnd(sSizeOff, sCountOff, sBodyStart, uint32(len(r.States)))
	return cloneBytes(e)
}

func DecodeGetStatesAndBuddyGroupsResponse(body []byte) (GetStatesAndBuddyGroupsResponse, error) {
	d := NewDecoder(body)
	var r GetStatesAndBuddyGroupsResponse

	gn, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.Groups = make([]BuddyGroupTargets, 0, gn)
	for i := uint32(0); i < gn; i++ {
		var g BuddyGroupTargets
		if g.GroupID, err = d.U16(); err != nil {
			return r, err
		}
		if g.PrimaryTargetID, err = d.U16(); err != nil {
			return r, err
		}
		if g.SecondaryTargetID, err = d.U16(); err != nil {
			return r, err
		}
		r.Groups = append(r.Groups, g)
	}

	sn, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.States = make([]TargetState, 0, sn)
	for i := uint32(0); i < sn; i++ {
		var s TargetState
		if s.TargetID, err = d.U16(); err != nil {
			return r, err
		}
		if s.Consistency, err = readCStr(d); err != nil {
			return r, err
		}
		if s.Reachability, err = readCStr(d); err != nil {
			return r, err
		}
		r.States = append(r.States, s)
	}
	return r, d.RemainingOrErr()
}

// StoragePoolRequest is the body of AddStoragePool (PoolID 0 requests
// allocation) and RemoveStoragePool (Alias unused).
type StoragePoolRequest struct {
	PoolID uint16
	Alias  string
}

func EncodeStoragePoolRequest(r StoragePoolRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.PoolID)
	e.CStr([]byte(r.Alias), FieldHint{})
	return cloneBytes(e)
}

func DecodeStoragePoolRequest(body []byte) (StoragePoolRequest, error) {
	d := NewDecoder(body)
	var r StoragePoolRequest
	var err error
	if r.PoolID, err = d.U16(); err != nil {
		return r, err
	}
	if r.Alias, err = readCStr(d); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// StoragePoolResponse is AddStoragePool's typed response.
type StoragePoolResponse struct {
	AssignedPoolID uint16
	Result         ResponseResult
}

func EncodeStoragePoolResponse(r StoragePoolResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.AssignedPoolID)
	e.U32(uint32(r.Result))
	return cloneBytes(e)
}

func DecodeStoragePoolResponse(body []byte) (StoragePoolResponse, error) {
	d := NewDecoder(body)
	id, err := d.U16()
	if err != nil {
		return StoragePoolResponse{}, err
	}
	result, err := d.U32()
	if err != nil {
		return StoragePoolResponse{}, err
	}
	return StoragePoolResponse{AssignedPoolID: id, Result: ResponseResult(result)}, d.RemainingOrErr()
}

// PoolInfo is one element of GetStoragePoolsResp.
type PoolInfo struct {
	Uid    uint64
	PoolID uint16
	Alias  string
}

// GetStoragePoolsResponse is GetStoragePools' typed response.
type GetStoragePoolsResponse struct {
	Pools []PoolInfo
}

func EncodeGetStoragePoolsResponse(r GetStoragePoolsResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, p := range r.Pools {
		e.U64(p.Uid)
		e.U16(p.PoolID)
		e.CStr([]byte(p.Alias), FieldHint{})
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Pools)))
	return cloneBytes(e)
}

func DecodeGetStoragePoolsResponse(body []byte) (GetStoragePoolsResponse, error) {
	d := NewDecoder(body)
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return GetStoragePoolsResponse{}, err
	}
	pools := make([]PoolInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		var p PoolInfo
		if p.Uid, err = d.U64(); err != nil {
			return GetStoragePoolsResponse{}, err
		}
		if p.PoolID, err = d.U16(); err != nil {
			return GetStoragePoolsResponse{}, err
		}
		if p.Alias, err = readCStr(d); err != nil {
			return GetStoragePoolsResponse{}, err
		}
		pools = append(pools, p)
	}
	return GetStoragePoolsResponse{Pools: pools}, d.RemainingOrErr()
}

// CapacityPoolSet is the three-bucket vector (Normal/Low/Emergency) of
// entity ids GetNodeCapacityPools returns for one pool.
type CapacityPoolSet struct {
	Normal    []uint16
	Low       []uint16
	Emergency []uint16
}

func encodeIDList(e *Encoder, ids []uint16) {
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, id := range ids {
		e.U16(id)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(ids)))
}

func decodeIDList(d *Decoder) ([]uint16, error) {
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.U16()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// GetNodeCapacityPoolsRequest is the body of GetNodeCapacityPools: a query
// for one of the four capacity-pool scopes (plain or mirrored, meta or
// storage targets).
type GetNodeCapacityPoolsRequest struct {
	QueryType string // "Meta", "Storage", "MetaMirrored", "StorageMirrored"
}

func EncodeGetNodeCapacityPoolsRequest(r GetNodeCapacityPoolsRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.QueryType), FieldHint{})
	return cloneBytes(e)
}

func DecodeGetNodeCapacityPoolsRequest(body []byte) (GetNodeCapacityPoolsRequest, error) {
	d := NewDecoder(body)
	queryType, err := readCStr(d)
	if err != nil {
		return GetNodeCapacityPoolsRequest{}, err
	}
	return GetNodeCapacityPoolsRequest{QueryType: queryType}, d.RemainingOrErr()
}

// CapacityPoolGroup is one storage pool's classification under a
// GetNodeCapacityPools query; meta scopes (which have no real pools)
// always report a single group with PoolID 0.
type CapacityPoolGroup struct {
	PoolID uint16
	Set    CapacityPoolSet
}

// GetNodeCapacityPoolsResponse is GetNodeCapacityPools' typed response.
type GetNodeCapacityPoolsResponse struct {
	Groups []CapacityPoolGroup
}

func EncodeGetNodeCapacityPoolsResponse(r GetNodeCapacityPoolsResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, g := range r.Groups {
		e.U16(g.PoolID)
		encodeIDList(e, g.Set.Normal)
		encodeIDList(e, g.Set.Low)
		encodeIDList(e, g.Set.Emergency)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Groups)))
	return cloneBytes(e)
}

func DecodeGetNodeCapacityPoolsResponse(body []byte) (GetNodeCapacityPoolsResponse, error) {
	d := NewDecoder(body)
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return GetNodeCapacityPoolsResponse{}, err
	}
	groups := make([]CapacityPoolGroup, 0, n)
	for i := uint32(0); i < n; i++ {
		var g CapacityPoolGroup
		if g.PoolID, err = d.U16(); err != nil {
			return GetNodeCapacityPoolsResponse{}, err
		}
		if g.Set.Normal, err = decodeIDList(d); err != nil {
			return GetNodeCapacityPoolsResponse{}, err
		}
		if g.Set.Low, err = decodeIDList(d); err != nil {
			return GetNodeCapacityPoolsResponse{}, err
		}
		if g.Set.Emergency, err = decodeIDList(d); err != nil {
			return GetNodeCapacityPoolsResponse{}, err
		}
		groups = append(groups, g)
	}
	return GetNodeCapacityPoolsResponse{Groups: groups}, d.RemainingOrErr()
}

// QuotaLimitEntry is one (id, limit) pair as carried by the quota limit
// set/get messages.
type QuotaLimitEntry struct {
	QuotaID uint32
	Value   uint64
}

// SetQuotaRequest is the body of SetQuota: a per-ID limit batch.
type SetQuotaRequest struct {
	PoolID    uint16
	IDType    string
	QuotaType string
	Limits    []QuotaLimitEntry
}

func EncodeSetQuotaRequest(r SetQuotaRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.PoolID)
	e.CStr([]byte(r.IDType), FieldHint{})
	e.CStr([]byte(r.QuotaType), FieldHint{})
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, l := range r.Limits {
		e.U32(l.QuotaID)
		e.U64(l.Value)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Limits)))
	return cloneBytes(e)
}

func DecodeSetQuotaRequest(body []byte) (SetQuotaRequest, error) {
	d := NewDecoder(body)
	var r SetQuotaRequest
	var err error
	if r.PoolID, err = d.U16(); err != nil {
		return r, err
	}
	if r.IDType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.QuotaType, err = readCStr(d); err != nil {
		return r, err
	}
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.Limits = make([]QuotaLimitEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var l QuotaLimitEntry
		if l.QuotaID, err = d.U32(); err != nil {
			return r, err
		}
		if l.Value, err = d.U64(); err != nil {
			return r, err
		}
		r.Limits = append(r.Limits, l)
	}
	return r, d.RemainingOrErr()
}

// SetDefaultQuotaRequest is the body of SetDefaultQuota: one pool-wide
// fallback limit.
type SetDefaultQuotaRequest struct {
	PoolID    uint16
	IDType    string
	QuotaType string
	Value     uint64
}

func EncodeSetDefaultQuotaRequest(r SetDefaultQuotaRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.PoolID)
	e.CStr([]byte(r.IDType), FieldHint{})
	e.CStr([]byte(r.QuotaType), FieldHint{})
	e.U64(r.Value)
	return cloneBytes(e)
}

func DecodeSetDefaultQuotaRequest(body []byte) (SetDefaultQuotaRequest, error) {
	d := NewDecoder(body)
	var r SetDefaultQuotaRequest
	var err error
	if r.PoolID, err = d.U16(); err != nil {
		return r, err
	}
	if r.IDType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.QuotaType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.Value, err = d.U64(); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// GetDefaultQuotaRequest is the body of GetDefaultQuota.
type GetDefaultQuotaRequest struct {
	PoolID    uint16
	IDType    string
	QuotaType string
}

func EncodeGetDefaultQuotaRequest(r GetDefaultQuotaRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.PoolID)
	e.CStr([]byte(r.IDType), FieldHint{})
	e.CStr([]byte(r.QuotaType), FieldHint{})
	return cloneBytes(e)
}

func DecodeGetDefaultQuotaRequest(body []byte) (GetDefaultQuotaRequest, error) {
	d := NewDecoder(body)
	var r GetDefaultQuotaRequest
	var err error
	if r.PoolID, err = d.U16(); err != nil {
		return r, err
	}
	if r.IDType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.QuotaType, err = readCStr(d); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// GetDefaultQuotaResponse is GetDefaultQuota's typed response.
type GetDefaultQuotaResponse struct {
	Value uint64
	IsSet bool
}

func EncodeGetDefaultQuotaResponse(r GetDefaultQuotaResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U64(r.Value)
	if r.IsSet {
		e.U8(1)
	} else {
		e.U8(0)
	}
	return cloneBytes(e)
}

func DecodeGetDefaultQuotaResponse(body []byte) (GetDefaultQuotaResponse, error) {
	d := NewDecoder(body)
	value, err := d.U64()
	if err != nil {
		return GetDefaultQuotaResponse{}, err
	}
	isSet, err := d.U8()
	if err != nil {
		return GetDefaultQuotaResponse{}, err
	}
	return GetDefaultQuotaResponse{Value: value, IsSet: isSet != 0}, d.RemainingOrErr()
}

// GetQuotaInfoRequest is the body of GetQuotaInfo: a usage query batched
// by id_type, issued by the quota aggregator to a storage target.
type GetQuotaInfoRequest struct {
	IDType    string
	QuotaType string
	IDs       []uint32
}

func EncodeGetQuotaInfoRequest(r GetQuotaInfoRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.IDType), FieldHint{})
	e.CStr([]byte(r.QuotaType), FieldHint{})
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, id := range r.IDs {
		e.U32(id)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.IDs)))
	return cloneBytes(e)
}

func DecodeGetQuotaInfoRequest(body []byte) (GetQuotaInfoRequest, error) {
	d := NewDecoder(body)
	var r GetQuotaInfoRequest
	var err error
	if r.IDType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.QuotaType, err = readCStr(d); err != nil {
		return r, err
	}
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.IDs = make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.U32()
		if err != nil {
			return r, err
		}
		r.IDs = append(r.IDs, id)
	}
	return r, d.RemainingOrErr()
}

// GetQuotaInfoResponse is GetQuotaInfo's typed response: usage per
// queried id.
type GetQuotaInfoResponse struct {
	Usage []QuotaLimitEntry
}

func EncodeGetQuotaInfoResponse(r GetQuotaInfoResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, u := range r.Usage {
		e.U32(u.QuotaID)
		e.U64(u.Value)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.Usage)))
	return cloneBytes(e)
}

func DecodeGetQuotaInfoResponse(body []byte) (GetQuotaInfoResponse, error) {
	d := NewDecoder(body)
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return GetQuotaInfoResponse{}, err
	}
	usage := make([]QuotaLimitEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var u QuotaLimitEntry
		if u.QuotaID, err = d.U32(); err != nil {
			return GetQuotaInfoResponse{}, err
		}
		if u.Value, err = d.U64(); err != nil {
			return GetQuotaInfoResponse{}, err
		}
		usage = append(usage, u)
	}
	return GetQuotaInfoResponse{Usage: usage}, d.RemainingOrErr()
}

// RequestExceededQuotaRequest is the body of RequestExceededQuota.
type RequestExceededQuotaRequest struct {
	PoolID    uint16
	IDType    string
	QuotaType string
}

func EncodeRequestExceededQuotaRequest(r RequestExceededQuotaRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.PoolID)
	e.CStr([]byte(r.IDType), FieldHint{})
	e.CStr([]byte(r.QuotaType), FieldHint{})
	return cloneBytes(e)
}

func DecodeRequestExceededQuotaRequest(body []byte) (RequestExceededQuotaRequest, error) {
	d := NewDecoder(body)
	var r RequestExceededQuotaRequest
	var err error
	if r.PoolID, err = d.U16(); err != nil {
		return r, err
	}
	if r.IDType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.QuotaType, err = readCStr(d); err != nil {
		return r, err
	}
	return r, d.RemainingOrErr()
}

// ExceededQuotaIDs is the shared payload of RequestExceededQuotaResp and
// the SetExceededQuota broadcast: the set of quota ids over their limit.
type ExceededQuotaIDs struct {
	PoolID    uint16
	IDType    string
	QuotaType string
	IDs       []uint32
}

func EncodeExceededQuotaIDs(r ExceededQuotaIDs) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U16(r.PoolID)
	e.CStr([]byte(r.IDType), FieldHint{})
	e.CStr([]byte(r.QuotaType), FieldHint{})
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	for _, id := range r.IDs {
		e.U32(id)
	}
	e.SeqEnd(sizeOff, countOff, bodyStart, uint32(len(r.IDs)))
	return cloneBytes(e)
}

func DecodeExceededQuotaIDs(body []byte) (ExceededQuotaIDs, error) {
	d := NewDecoder(body)
	var r ExceededQuotaIDs
	var err error
	if r.PoolID, err = d.U16(); err != nil {
		return r, err
	}
	if r.IDType, err = readCStr(d); err != nil {
		return r, err
	}
	if r.QuotaType, err = readCStr(d); err != nil {
		return r, err
	}
	n, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	if err != nil {
		return r, err
	}
	r.IDs = make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.U32()
		if err != nil {
			return r, err
		}
		r.IDs = append(r.IDs, id)
	}
	return r, d.RemainingOrErr()
}

// AuthenticateChannelRequest is the body of AuthenticateChannel.
type AuthenticateChannelRequest struct {
	Secret []byte
}

func EncodeAuthenticateChannelRequest(r AuthenticateChannelRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U32(uint32(len(r.Secret)))
	e.RawBytes(r.Secret)
	return cloneBytes(e)
}

func DecodeAuthenticateChannelRequest(body []byte) (AuthenticateChannelRequest, error) {
	d := NewDecoder(body)
	n, err := d.U32()
	if err != nil {
		return AuthenticateChannelRequest{}, err
	}
	secret, err := d.RawBytes(int(n))
	if err != nil {
		return AuthenticateChannelRequest{}, err
	}
	return AuthenticateChannelRequest{Secret: secret}, d.RemainingOrErr()
}

// PeerInfoResponse is PeerInfo's typed response: a lightweight liveness
// probe reply carrying a uid and a node type. The management handler
// fills in only the node type and leaves Uid 0.
type PeerInfoResponse struct {
	Uid      uint64
	NodeType string
}

func EncodePeerInfoResponse(r PeerInfoResponse) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.U64(r.Uid)
	e.CStr([]byte(r.NodeType), FieldHint{})
	return cloneBytes(e)
}

func DecodePeerInfoResponse(body []byte) (PeerInfoResponse, error) {
	d := NewDecoder(body)
	uid, err := d.U64()
	if err != nil {
		return PeerInfoResponse{}, err
	}
	nodeType, err := readCStr(d)
	if err != nil {
		return PeerInfoResponse{}, err
	}
	return PeerInfoResponse{Uid: uid, NodeType: nodeType}, d.RemainingOrErr()
}

func readCStr(d *Decoder) (string, error) {
	b, err := d.CStr(FieldHint{})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func cloneBytes(e *Encoder) []byte {
	out := make([]byte, e.Len())
	copy(out, e.Bytes())
	return out
}

// AckRequest is Ack's body and also RefreshCapacityPools's typed
// response: an opaque caller-chosen token echoed back unchanged.
type AckRequest struct {
	AckID string
}

func EncodeAckRequest(r AckRequest) []byte {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	e := NewEncoder(buf)
	e.CStr([]byte(r.AckID), FieldHint{})
	return cloneBytes(e)
}

func DecodeAckRequest(body []byte) (AckRequest, error) {
	d := NewDecoder(body)
	ackID, err := readCStr(d)
	if err != nil {
		return AckRequest{}, err
	}
	return AckRequest{AckID: ackID}, d.RemainingOrErr()
}
