package handlers

import (
	"context"
	"database/sql"
	"net"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

var aliasPattern = regexp.MustCompile(types.AliasPattern)

// heartbeatAudience returns the node types that must be notified when a
// node of registrantType registers, re-registers, or is removed.
func heartbeatAudience(registrantType types.NodeType) []types.NodeType {
	switch registrantType {
	case types.NodeMeta:
		return []types.NodeType{types.NodeMeta, types.NodeClient}
	case types.NodeStorage:
		return []types.NodeType{types.NodeMeta, types.NodeStorage, types.NodeClient}
	case types.NodeClient:
		return []types.NodeType{types.NodeMeta}
	default:
		return nil
	}
}

func nicsToWire(nics []types.Nic) []wire.NicInfo {
	out := make([]wire.NicInfo, 0, len(nics))
	for _, n := range nics {
		out = append(out, wire.NicInfo{Address: n.Address.String(), Name: n.Name, Type: string(n.Type)})
	}
	return out
}

func nicsFromWire(nics []wire.NicInfo) []types.Nic {
	out := make([]types.Nic, 0, len(nics))
	for _, n := range nics {
		out = append(out, types.Nic{Address: net.ParseIP(n.Address), Name: n.Name, Type: types.NicType(n.Type)})
	}
	return out
}

func nicAddrPorts(nics []types.Nic, port uint16) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(nics))
	for _, n := range nics {
		addr, ok := netip.AddrFromSlice(n.Address)
		if !ok {
			continue
		}
		out = append(out, netip.AddrPortFrom(addr.Unmap(), port))
	}
	return out
}

// registeredNode is the result of registerOrUpdateNode: the node as it now
// exists, and whether this call created it.
type registeredNode struct {
	node    types.Node
	alias   string
	created bool
}

// registerOrUpdateNode implements the shared create-or-refresh logic behind
// both RegisterNode and inbound Heartbeat: an existing (node_type, num_id)
// pair only has its port and NIC list refreshed; anything else is a new
// node, subject to the registration-enabled policy, alias assignment, and
// (for Meta nodes) the implicit creation of a same-numbered target.
func registerOrUpdateNode(ctx context.Context, app *Context, reg wire.NodeRegistration) (registeredNode, error) {
	nodeType := types.NodeType(reg.NodeType)
	nics := nicsFromWire(reg.Nics)
	now := time.Now()

	result, err := store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (registeredNode, error) {
		if reg.NumID != 0 {
			existing, found, err := store.GetNodeByTypeAndNumID(tx, nodeType, reg.NumID)
			if err != nil {
				return registeredNode{}, err
			}
			if found {
				if err := store.UpdateNodePort(tx, existing.Uid, reg.Port, now); err != nil {
					return registeredNode{}, err
				}
				if err := store.ReplaceNics(tx, existing.Uid, nics); err != nil {
					return registeredNode{}, err
				}
				alias, err := store.GetAliasForUid(tx, existing.Uid)
				if err != nil {
					return registeredNode{}, err
				}
				existing.Port = reg.Port
				existing.Nics = nics
				existing.LastContact = now
				return registeredNode{node: existing, alias: alias, created: false}, nil
			}
		}

		if !app.Static.Config.RegistrationEnabled {
			return registeredNode{}, mgmterr.Newf(mgmterr.Policy, "registration of new nodes is disabled")
		}

		numID := reg.NumID
		if numID == 0 {
			var err error
			numID, err = allocateNumID(tx, nodeType)
			if err != nil {
				return registeredNode{}, err
			}
		}

		uid, err := store.NextUid(tx)
		if err != nil {
			return registeredNode{}, err
		}
		node := types.Node{
			Uid: uid, NumID: numID, Type: nodeType, Port: reg.Port,
			Nics: nics, MachineUUID: reg.MachineUUID, LastContact: now,
		}
		if err := store.InsertNode(tx, node); err != nil {
			return registeredNode{}, err
		}

		alias := ""
		if nodeType == types.NodeClient && reg.RequestedAlias != "" && aliasPattern.MatchString(reg.RequestedAlias) {
			if err := store.InsertAlias(tx, uid, types.EntityNode, reg.RequestedAlias); err == nil {
				alias = reg.RequestedAlias
			}
		}

		if nodeType == types.NodeMeta {
			if numID > 0xFFFF {
				return registeredNode{}, mgmterr.Newf(mgmterr.Invalid, "num_id %d is not a valid meta target id", numID)
			}
			targetUid, err := store.NextUid(tx)
			if err != nil {
				return registeredNode{}, err
			}
			if err := store.InsertTarget(tx, types.Target{
				Uid: targetUid, TargetID: uint16(numID), Type: types.NodeMeta, NodeUid: uid,
				Consistency: types.ConsistencyGood, LastContact: now,
			}); err != nil {
				return registeredNode{}, err
			}
		}

		return registeredNode{node: node, alias: alias, created: true}, nil
	})
	if err != nil {
		return registeredNode{}, err
	}

	app.Pool.ReplaceNodeAddrs(result.node.Uid, nicAddrPorts(nics, reg.Port))

	if result.created {
		app.Pulled.MarkDirty(result.node.Uid)
		broadcastHeartbeat(ctx, app, result.node, result.alias)
	}

	return result, nil
}

// allocateNumID picks the next id for a newly-created node: servers get
// the lowest free slot in 1..=65535, clients get a monotonically
// increasing counter persisted across restarts.
func allocateNumID(tx *sql.Tx, nodeType types.NodeType) (uint32, error) {
	if nodeType == types.NodeClient {
		return nextClientNumID(tx)
	}

	nodes, err := store.ListNodesByType(tx, nodeType)
	if err != nil {
		return 0, err
	}
	taken := make(map[uint16]bool, len(nodes))
	for _, n := range nodes {
		taken[uint16(n.NumID)] = true
	}
	id, err := lowestFreeUint16(taken)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

func nextClientNumID(tx *sql.Tx) (uint32, error) {
	raw, ok, err := store.GetConfigEntry(tx, types.ConfigLastClientNumID)
	if err != nil {
		return 0, err
	}
	var last uint64
	if ok {
		last, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, mgmterr.New(mgmterr.Internal, err)
		}
	}
	next := last + 1
	if err := store.SetConfigEntry(tx, types.ConfigLastClientNumID, strconv.FormatUint(next, 10)); err != nil {
		return 0, err
	}
	return uint32(next), nil
}

// uidsOfTypes collects the Uids of every registered node across the given
// node types, the common audience-resolution step for both heartbeat and
// remove-node broadcasts.
func uidsOfTypes(ctx context.Context, app *Context, nodeTypes []types.NodeType) ([]types.Uid, error) {
	return store.ReadTx(ctx, app.Store, func(tx *sql.Tx) ([]types.Uid, error) {
		var out []types.Uid
		for _, nt := range nodeTypes {
			nodes, err := store.ListNodesByType(tx, nt)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				out = append(out, n.Uid)
			}
		}
		return out, nil
	})
}

func broadcastHeartbeat(ctx context.Context, app *Context, node types.Node, alias string) {
	audience := heartbeatAudience(node.Type)
	if len(audience) == 0 {
		return
	}
	uids, err := uidsOfTypes(ctx, app, audience)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("failed to load heartbeat broadcast audience")
		return
	}

	body := wire.EncodeHeartbeat(wire.Heartbeat{
		Uid: uint64(node.Uid), NumID: node.NumID, NodeType: string(node.Type),
		Port: node.Port, Alias: alias, MachineUUID: node.MachineUUID,
		Nics: nicsToWire(node.Nics),
	})
	if err := app.Pool.BroadcastDatagram(uids, wire.MsgHeartbeat, 0, body); err != nil {
		app.Logger.Warn().Err(err).Msg("failed to broadcast heartbeat")
	}
}

// RegisterNode handles a node's initial or repeat self-announcement.
func RegisterNode(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	reg, err := wire.DecodeNodeRegistration(body)
	if err != nil {
		return err
	}
	result, err := registerOrUpdateNode(ctx, app, reg)
	if err != nil {
		return err
	}
	return ch.Reply(wire.MsgRegisterNodeResp, 0, wire.EncodeNodeRegistrationResp(wire.NodeRegistrationResp{
		AssignedNumID: result.node.NumID, Result: wire.ResultSuccess,
	}))
}

// Heartbeat is the inbound periodic re-announce a node sends to keep its
// registration alive; it reuses RegisterNode's body schema and update
// path and sends no reply.
func Heartbeat(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	reg, err := wire.DecodeNodeRegistration(body)
	if err != nil {
		return err
	}
	if _, err := registerOrUpdateNode(ctx, app, reg); err != nil {
		return err
	}
	return nil
}

// HeartbeatRequest asks management to announce its own identity back to
// the requester.
func HeartbeatRequest(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	return ch.Reply(wire.MsgHeartbeat, 0, wire.EncodeHeartbeat(wire.Heartbeat{
		NodeType: string(types.NodeManagement), Port: app.Static.Config.ListenPort,
	}))
}

// GetNodes answers a catalog request for every registered node of a type,
// sorted by num_id.
func GetNodes(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeGetNodesRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)

	infos, err := store.ReadTx(ctx, app.Store, func(tx *sql.Tx) ([]wire.NodeInfo, error) {
		nodes, err := store.ListNodesByType(tx, nodeType)
		if err != nil {
			return nil, err
		}
		out := make([]wire.NodeInfo, 0, len(nodes))
		for _, n := range nodes {
			alias, err := store.GetAliasForUid(tx, n.Uid)
			if err != nil {
				return nil, err
			}
			out = append(out, wire.NodeInfo{
				Uid: uint64(n.Uid), NumID: n.NumID, Alias: alias, Port: n.Port,
				Nics: nicsToWire(n.Nics),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].NumID < out[j].NumID })
		return out, nil
	})
	if err != nil {
		return err
	}

	return ch.Reply(wire.MsgGetNodesResp, 0, wire.EncodeGetNodesResponse(wire.GetNodesResponse{Nodes: infos}))
}

// RemoveNode deletes a client node. Server node removal requires the
// structured RPC surface, which can run the additional precondition
// checks (no mapped targets, no buddy group membership) a bare legacy
// message cannot express.
func RemoveNode(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeRemoveNodeRequest(body)
	if err != nil {
		return err
	}
	nodeType := types.NodeType(req.NodeType)
	if nodeType != types.NodeClient {
		return mgmterr.Newf(mgmterr.Invalid, "can only remove client nodes over the legacy protocol; server nodes require the structured RPC surface")
	}

	node, err := store.WriteTx(ctx, app.Store, func(tx *sql.Tx) (types.Node, error) {
		n, found, err := store.GetNodeByTypeAndNumID(tx, nodeType, req.NumID)
		if err != nil {
			return types.Node{}, err
		}
		if !found {
			return types.Node{}, mgmterr.Newf(mgmterr.NotFound, "client num_id %d not found", req.NumID)
		}
		return n, store.DeleteNode(tx, n.Uid)
	})
	if err != nil {
		return err
	}

	broadcastRemoveNode(ctx, app, node)
	return nil
}

// broadcastRemoveNode notifies the same node-type-dependent audience a
// registration would, so peers evict their cached copy of the removed
// node.
func broadcastRemoveNode(ctx context.Context, app *Context, node types.Node) {
	audience := heartbeatAudience(node.Type)
	if len(audience) == 0 {
		return
	}
	uids, err := uidsOfTypes(ctx, app, audience)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("failed to load remove-node broadcast audience")
		return
	}

	body := wire.EncodeRemoveNodeRequest(wire.RemoveNodeRequest{NodeType: string(node.Type), NumID: node.NumID})
	if err := app.Pool.BroadcastDatagram(uids, wire.MsgRemoveNode, 0, body); err != nil {
		app.Logger.Warn().Err(err).Msg("failed to broadcast remove node")
	}
}
