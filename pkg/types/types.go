package types

import (
	"net"
	"time"
)

// Uid is a process-global 64-bit opaque identity assigned to every entity
// at creation. Uids are never reused.
type Uid uint64

// ManagementUid is the distinguished constant identifying the management
// entity itself (the mgmtd process), used where a Uid must reference "self"
// rather than a registered node.
const ManagementUid Uid = 1

// EntityKind distinguishes the kinds of entity that share the alias and
// Uid namespaces.
type EntityKind string

const (
	EntityNode       EntityKind = "Node"
	EntityTarget     EntityKind = "Target"
	EntityBuddyGroup EntityKind = "BuddyGroup"
	EntityPool       EntityKind = "Pool"
)

// Entity is the common identity shared by every addressable object in the
// topology: a Uid, its kind, and a unique human-readable alias.
type Entity struct {
	Uid   Uid
	Kind  EntityKind
	Alias string
}

// AliasPattern is the validation pattern for Entity.Alias. pkg/handlers
// checks it when a client registration requests an alias and ignores a
// non-matching request; the structured RPC's SetAlias and CreatePool
// store aliases without checking it.
const AliasPattern = `^[A-Za-z][A-Za-z0-9._-]{0,31}$`

// NodeType enumerates the roles a node can hold in the filesystem.
type NodeType string

const (
	NodeMeta       NodeType = "Meta"
	NodeStorage    NodeType = "Storage"
	NodeClient     NodeType = "Client"
	NodeManagement NodeType = "Management"
)

// NicType enumerates the transport a node network interface advertises.
type NicType string

const (
	NicEthernet NicType = "Ethernet"
	NicRDMA     NicType = "RDMA"
	NicSDP      NicType = "SDP"
)

// Nic is one network interface advertised by a node, refreshed on every
// heartbeat.
type Nic struct {
	Address net.IP
	Name    string
	Type    NicType
}

// Node is a server or client participating in the filesystem. Server nodes
// (Meta, Storage, Management) carry a 16-bit NumID; clients carry a 32-bit
// NumID allocated from a persisted monotonic counter.
type Node struct {
	Uid         Uid
	NumID       uint32
	Type        NodeType
	Port        uint16
	Nics        []Nic
	MachineUUID string // optional, empty if not reported
	LastContact time.Time
}

// ConsistencyState is the resync state of a target.
type ConsistencyState string

const (
	ConsistencyGood        ConsistencyState = "Good"
	ConsistencyNeedsResync ConsistencyState = "NeedsResync"
	ConsistencyBad         ConsistencyState = "Bad"
)

// Capacities reports a target's free/total space and inode counts, as last
// reported by the owning node.
type Capacities struct {
	TotalSpace  uint64
	FreeSpace   uint64
	TotalInodes uint64
	FreeInodes  uint64
}

// Target is a single meta or storage target. Meta targets are in
// one-to-one correspondence with meta nodes and their TargetID equals the
// owning node's NumID.
type Target struct {
	Uid          Uid
	TargetID     uint16
	Type         NodeType // Meta or Storage
	NodeUid      Uid      // owning node
	PoolUid      *Uid     // set only for Storage targets
	Capacities   Capacities
	Consistency  ConsistencyState
	LastContact  time.Time // as stored at insert; readers substitute the owning node's
}

// BuddyGroup is a mirrored pair of targets of the same node type. For
// Storage groups both targets must belong to the same pool.
type BuddyGroup struct {
	Uid             Uid
	GroupID         uint16
	Type            NodeType // Meta or Storage
	PrimaryTarget   Uid
	SecondaryTarget Uid
	PoolUid         *Uid // set only for Storage groups
}

// Pool is a storage target pool. PoolID 0 is the distinguished default
// pool and cannot be removed.
type Pool struct {
	Uid    Uid
	PoolID uint16
}

// DefaultPoolID is the pool_id of the distinguished default storage pool.
const DefaultPoolID uint16 = 0

// RootOwnerKind distinguishes whether the filesystem root is owned by a
// single meta target or a meta buddy group.
type RootOwnerKind string

const (
	RootOwnedByTarget     RootOwnerKind = "Target"
	RootOwnedByBuddyGroup RootOwnerKind = "BuddyGroup"
)

// RootInode identifies the meta target or meta buddy group that owns the
// filesystem root. Exactly one row exists.
type RootInode struct {
	OwnerKind RootOwnerKind
	OwnerUid  Uid
}

// IDType distinguishes user vs. group quota accounting.
type IDType string

const (
	IDTypeUser  IDType = "User"
	IDTypeGroup IDType = "Group"
)

// QuotaType distinguishes space vs. inode quota accounting.
type QuotaType string

const (
	QuotaSpace QuotaType = "Space"
	QuotaInode QuotaType = "Inode"
)

// QuotaDefaultLimit is the fallback limit applied to any quota ID in a pool
// that has no QuotaLimit of its own. A missing row means unset/unlimited.
type QuotaDefaultLimit struct {
	PoolID    uint16
	IDType    IDType
	Type      QuotaType
	Value     uint64
}

// QuotaLimit is a per-ID override of the pool's default limit.
type QuotaLimit struct {
	QuotaID uint32
	IDType  IDType
	Type    QuotaType
	PoolID  uint16
	Value   uint64
}

// QuotaUsage is the last-collected usage for one quota ID on one target.
type QuotaUsage struct {
	QuotaID  uint32
	IDType   IDType
	Type     QuotaType
	TargetID uint16
	Value    uint64
}

// CapacityCategory classifies a target or pool's remaining capacity for
// placement decisions.
type CapacityCategory string

const (
	CapacityNormal    CapacityCategory = "Normal"
	CapacityLow       CapacityCategory = "Low"
	CapacityEmergency CapacityCategory = "Emergency"
)

// SwitchoverState tracks an in-flight buddy group promotion.
type SwitchoverState string

const (
	SwitchoverNone      SwitchoverState = "None"
	SwitchoverPending   SwitchoverState = "Pending"
	SwitchoverCommitted SwitchoverState = "Committed"
)

// ConfigKey enumerates well-known dynamic settings and persisted counters
// held in the Config key-value table.
type ConfigKey string

const (
	ConfigFilesystemUUID     ConfigKey = "filesystem_uuid"
	ConfigLastClientNumID    ConfigKey = "last_client_num_id"
	ConfigQuotaEnabled       ConfigKey = "quota_enabled"
	ConfigAutoRegisterNodes  ConfigKey = "auto_register_nodes"
)

// ConfigEntry is one row of the dynamic key-value configuration table.
type ConfigEntry struct {
	Key   ConfigKey
	Value string
}
