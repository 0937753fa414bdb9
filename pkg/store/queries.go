package store

import (
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// NextUid allocates and persists the next process-global Uid.
func NextUid(tx *sql.Tx) (types.Uid, error) {
	var next int64
	if err := tx.QueryRow("SELECT next FROM uid_sequence").Scan(&next); err != nil {
		return 0, mgmterr.New(mgmterr.Internal, err)
	}
	if _, err := tx.Exec("UPDATE uid_sequence SET next = ?", next+1); err != nil {
		return 0, mgmterr.New(mgmterr.Internal, err)
	}
	return types.Uid(next), nil
}

// InsertAlias registers alias for uid/kind. It fails with Conflict if the
// alias is already taken by any entity, enforcing the cross-kind alias
// uniqueness invariant at the database layer via the aliases table's
// primary key.
func InsertAlias(tx *sql.Tx, uid types.Uid, kind types.EntityKind, alias string) error {
	_, err := tx.Exec(`INSERT INTO aliases (alias, kind, uid) VALUES (?, ?, ?)`, alias, string(kind), uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Conflict, fmt.Errorf("alias %q already in use: %w", alias, err))
	}
	return nil
}

// RenameAlias moves uid's alias registration from old to next.
func RenameAlias(tx *sql.Tx, uid types.Uid, next string) error {
	res, err := tx.Exec(`UPDATE aliases SET alias = ? WHERE uid = ?`, next, uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Conflict, fmt.Errorf("alias %q already in use: %w", next, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	if n == 0 {
		return mgmterr.Newf(mgmterr.NotFound, "uid %d has no alias registration", uid)
	}
	return nil
}

// LookupByAlias resolves alias to its Entity, or NotFound.
func LookupByAlias(tx *sql.Tx, alias string) (types.Entity, error) {
	var e types.Entity
	e.Alias = alias
	var kind string
	var uid uint64
	err := tx.QueryRow(`SELECT kind, uid FROM aliases WHERE alias = ?`, alias).Scan(&kind, &uid)
	if err == sql.ErrNoRows {
		return types.Entity{}, mgmterr.Newf(mgmterr.NotFound, "no entity with alias %q", alias)
	}
	if err != nil {
		return types.Entity{}, mgmterr.New(mgmterr.Internal, err)
	}
	e.Kind = types.EntityKind(kind)
	e.Uid = types.Uid(uid)
	return e, nil
}

// DeleteAlias removes uid's alias registration, used when the owning
// entity is deleted.
func DeleteAlias(tx *sql.Tx, uid types.Uid) error {
	_, err := tx.Exec(`DELETE FROM aliases WHERE uid = ?`, uint64(uid))
	return mgmterr.New(mgmterr.Internal, err)
}

// GetAliasForUid returns uid's registered alias, or "" if it has none.
func GetAliasForUid(tx *sql.Tx, uid types.Uid) (string, error) {
	var alias string
	err := tx.QueryRow(`SELECT alias FROM aliases WHERE uid = ?`, uint64(uid)).Scan(&alias)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", mgmterr.New(mgmterr.Internal, err)
	}
	return alias, nil
}

// InsertNode creates a node row and its NIC list.
func InsertNode(tx *sql.Tx, n types.Node) error {
	_, err := tx.Exec(
		`INSERT INTO nodes (uid, node_type, num_id, port, machine_uuid, last_contact) VALUES (?, ?, ?, ?, ?, ?)`,
		uint64(n.Uid), string(n.Type), n.NumID, n.Port, n.MachineUUID, n.LastContact.Unix(),
	)
	if err != nil {
		return mgmterr.New(mgmterr.Conflict, fmt.Errorf("insert node: %w", err))
	}
	return ReplaceNics(tx, n.Uid, n.Nics)
}

// ReplaceNics deletes and re-inserts the full NIC list for a node, per the
// "refresh the NIC list" behavior of node registration/heartbeat.
func ReplaceNics(tx *sql.Tx, nodeUid types.Uid, nics []types.Nic) error {
	if _, err := tx.Exec(`DELETE FROM nics WHERE node_uid = ?`, uint64(nodeUid)); err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	for _, nic := range nics {
		_, err := tx.Exec(`INSERT INTO nics (node_uid, address, name, nic_type) VALUES (?, ?, ?, ?)`,
			uint64(nodeUid), nic.Address.String(), nic.Name, string(nic.Type))
		if err != nil {
			return mgmterr.New(mgmterr.Internal, err)
		}
	}
	return nil
}

// UpdateNodeContact refreshes a node's last_contact timestamp, used by
// write_tx_no_sync bookkeeping paths.
func UpdateNodeContact(tx *sql.Tx, uid types.Uid, at time.Time) error {
	_, err := tx.Exec(`UPDATE nodes SET last_contact = ? WHERE uid = ?`, at.Unix(), uint64(uid))
	return mgmterr.New(mgmterr.Internal, err)
}

// UpdateNodePort refreshes an already-registered node's port and
// last_contact timestamp, the only fields a re-registration of an
// existing node is allowed to change.
func UpdateNodePort(tx *sql.Tx, uid types.Uid, port uint16, at time.Time) error {
	_, err := tx.Exec(`UPDATE nodes SET port = ?, last_contact = ? WHERE uid = ?`, port, at.Unix(), uint64(uid))
	return mgmterr.New(mgmterr.Internal, err)
}

// GetNodeByTypeAndNumID looks up a node by its natural (node_type, num_id)
// key, used to decide whether a registration is a create or an update.
func GetNodeByTypeAndNumID(tx *sql.Tx, nodeType types.NodeType, numID uint32) (types.Node, bool, error) {
	row := tx.QueryRow(`SELECT uid, node_type, num_id, port, machine_uuid, last_contact
		FROM nodes WHERE node_type = ? AND num_id = ?`, string(nodeType), numID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return types.Node{}, false, nil
	}
	if err != nil {
		return types.Node{}, false, mgmterr.New(mgmterr.Internal, err)
	}
	nics, err := nicsForNode(tx, n.Uid)
	if err != nil {
		return types.Node{}, false, err
	}
	n.Nics = nics
	return n, true, nil
}

// ListNodesByType returns every node of nodeType, ordered by num_id, with
// their NIC lists populated.
func ListNodesByType(tx *sql.Tx, nodeType types.NodeType) ([]types.Node, error) {
	rows, err := tx.Query(`SELECT uid, node_type, num_id, port, machine_uuid, last_contact
		FROM nodes WHERE node_type = ? ORDER BY num_id ASC`, string(nodeType))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		nics, err := nicsForNode(tx, n.Uid)
		if err != nil {
			return nil, err
		}
		n.Nics = nics
		out = append(out, n)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// DeleteNode removes a node row; ON DELETE CASCADE removes its NICs.
// Callers are responsible for checking it owns no targets first.
func DeleteNode(tx *sql.Tx, uid types.Uid) error {
	res, err := tx.Exec(`DELETE FROM nodes WHERE uid = ?`, uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	if n == 0 {
		return mgmterr.Newf(mgmterr.NotFound, "node uid %d not found", uid)
	}
	return DeleteAlias(tx, uid)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanNode(row scannable) (types.Node, error) {
	var n types.Node
	var nodeType string
	var uid uint64
	var lastContact int64
	if err := row.Scan(&uid, &nodeType, &n.NumID, &n.Port, &n.MachineUUID, &lastContact); err != nil {
		return types.Node{}, err
	}
	n.Uid = types.Uid(uid)
	n.Type = types.NodeType(nodeType)
	n.LastContact = time.Unix(lastContact, 0).UTC()
	return n, nil
}

func nicsForNode(tx *sql.Tx, nodeUid types.Uid) ([]types.Nic, error) {
	rows, err := tx.Query(`SELECT address, name, nic_type FROM nics WHERE node_uid = ?`, uint64(nodeUid))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.Nic
	for rows.Next() {
		var addr, name, nicType string
		if err := rows.Scan(&addr, &name, &nicType); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out = append(out, types.Nic{Address: net.ParseIP(addr), Name: name, Type: types.NicType(nicType)})
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// InsertTarget creates a target row.
func InsertTarget(tx *sql.Tx, t types.Target) error {
	var poolUid any
	if t.PoolUid != nil {
		poolUid = uint64(*t.PoolUid)
	}
	_, err := tx.Exec(`INSERT INTO targets
		(uid, target_id, node_type, node_uid, pool_uid, total_space, free_space, total_inodes, free_inodes, consistency, last_contact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uint64(t.Uid), t.TargetID, string(t.Type), uint64(t.NodeUid), poolUid,
		t.Capacities.TotalSpace, t.Capacities.FreeSpace, t.Capacities.TotalInodes, t.Capacities.FreeInodes,
		string(t.Consistency), t.LastContact.Unix(),
	)
	if err != nil {
		return mgmterr.New(mgmterr.Conflict, fmt.Errorf("insert target: %w", err))
	}
	return nil
}

// GetTargetByUid looks up a single target by its Uid.
func GetTargetByUid(tx *sql.Tx, uid types.Uid) (types.Target, error) {
	row := tx.QueryRow(`SELECT uid, target_id, node_type, node_uid, pool_uid, total_space, free_space,
		total_inodes, free_inodes, consistency, last_contact FROM targets WHERE uid = ?`, uint64(uid))
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return types.Target{}, mgmterr.Newf(mgmterr.NotFound, "target uid %d not found", uid)
	}
	if err != nil {
		return types.Target{}, mgmterr.New(mgmterr.Internal, err)
	}
	return t, nil
}

// GetTargetByTypeAndID looks up a target by its natural (node_type,
// target_id) key.
func GetTargetByTypeAndID(tx *sql.Tx, nodeType types.NodeType, targetID uint16) (types.Target, bool, error) {
	row := tx.QueryRow(`SELECT uid, target_id, node_type, node_uid, pool_uid, total_space, free_space,
		total_inodes, free_inodes, consistency, last_contact FROM targets WHERE node_type = ? AND target_id = ?`,
		string(nodeType), targetID)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return types.Target{}, false, nil
	}
	if err != nil {
		return types.Target{}, false, mgmterr.New(mgmterr.Internal, err)
	}
	return t, true, nil
}

// SetTargetConsistency updates only a target's consistency column,
// returning whether the row actually changed (for the "broadcast only if
// something changed" rule of ChangeTargetConsistencyStates).
func SetTargetConsistency(tx *sql.Tx, uid types.Uid, consistency types.ConsistencyState) (bool, error) {
	var before string
	if err := tx.QueryRow(`SELECT consistency FROM targets WHERE uid = ?`, uint64(uid)).Scan(&before); err != nil {
		if err == sql.ErrNoRows {
			return false, mgmterr.Newf(mgmterr.NotFound, "target uid %d not found", uid)
		}
		return false, mgmterr.New(mgmterr.Internal, err)
	}
	if before == string(consistency) {
		return false, nil
	}
	if _, err := tx.Exec(`UPDATE targets SET consistency = ? WHERE uid = ?`, string(consistency), uint64(uid)); err != nil {
		return false, mgmterr.New(mgmterr.Internal, err)
	}
	return true, nil
}

// UpdateTargetCapacities refreshes a target's reported capacities and
// consistency in one statement, for the SetStorageTargetInfo batch path.
func UpdateTargetCapacities(tx *sql.Tx, uid types.Uid, c types.Capacities, consistency types.ConsistencyState) error {
	res, err := tx.Exec(`UPDATE targets SET total_space = ?, free_space = ?, total_inodes = ?, free_inodes = ?, consistency = ?
		WHERE uid = ?`, c.TotalSpace, c.FreeSpace, c.TotalInodes, c.FreeInodes, string(consistency), uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	if n == 0 {
		return mgmterr.Newf(mgmterr.NotFound, "target uid %d not found", uid)
	}
	return nil
}

// ListTargetsByType returns every target of nodeType.
func ListTargetsByType(tx *sql.Tx, nodeType types.NodeType) ([]types.Target, error) {
	rows, err := tx.Query(`SELECT uid, target_id, node_type, node_uid, pool_uid, total_space, free_space,
		total_inodes, free_inodes, consistency, last_contact FROM targets WHERE node_type = ? ORDER BY target_id ASC`,
		string(nodeType))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out = append(out, t)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// ListTargetsByPool returns every storage target assigned to poolUid.
func ListTargetsByPool(tx *sql.Tx, poolUid types.Uid) ([]types.Target, error) {
	rows, err := tx.Query(`SELECT uid, target_id, node_type, node_uid, pool_uid, total_space, free_space,
		total_inodes, free_inodes, consistency, last_contact FROM targets WHERE pool_uid = ? ORDER BY target_id ASC`,
		uint64(poolUid))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out = append(out, t)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// DeleteTarget removes a target row and its alias registration. Callers
// are responsible for checking root-inode ownership and buddy group
// membership first; this performs no cascading checks of its own, the
// same contract DeleteNode and DeletePool already follow.
func DeleteTarget(tx *sql.Tx, uid types.Uid) error {
	res, err := tx.Exec(`DELETE FROM targets WHERE uid = ?`, uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	if n == 0 {
		return mgmterr.Newf(mgmterr.NotFound, "target uid %d not found", uid)
	}
	return DeleteAlias(tx, uid)
}

func scanTarget(row scannable) (types.Target, error) {
	var t types.Target
	var uid, nodeUid uint64
	var poolUid sql.NullInt64
	var nodeType, consistency string
	var lastContact int64
	err := row.Scan(&uid, &t.TargetID, &nodeType, &nodeUid, &poolUid,
		&t.Capacities.TotalSpace, &t.Capacities.FreeSpace, &t.Capacities.TotalInodes, &t.Capacities.FreeInodes,
		&consistency, &lastContact)
	if err != nil {
		return types.Target{}, err
	}
	t.Uid = types.Uid(uid)
	t.NodeUid = types.Uid(nodeUid)
	t.Type = types.NodeType(nodeType)
	t.Consistency = types.ConsistencyState(consistency)
	t.LastContact = time.Unix(lastContact, 0).UTC()
	if poolUid.Valid {
		pu := types.Uid(poolUid.Int64)
		t.PoolUid = &pu
	}
	return t, nil
}

// InsertBuddyGroup creates a buddy group row.
func InsertBuddyGroup(tx *sql.Tx, g types.BuddyGroup) error {
	var poolUid any
	if g.PoolUid != nil {
		poolUid = uint64(*g.PoolUid)
	}
	_, err := tx.Exec(`INSERT INTO buddy_groups (uid, group_id, node_type, primary_target_uid, secondary_target_uid, pool_uid)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uint64(g.Uid), g.GroupID, string(g.Type), uint64(g.PrimaryTarget), uint64(g.SecondaryTarget), poolUid)
	if err != nil {
		return mgmterr.New(mgmterr.Conflict, fmt.Errorf("insert buddy group: %w", err))
	}
	return nil
}

// SwapBuddyGroupTargets promotes the secondary target to primary.
func SwapBuddyGroupTargets(tx *sql.Tx, groupUid types.Uid) error {
	_, err := tx.Exec(`UPDATE buddy_groups SET
		primary_target_uid = secondary_target_uid,
		secondary_target_uid = primary_target_uid
		WHERE uid = ?`, uint64(groupUid))
	return mgmterr.New(mgmterr.Internal, err)
}

// TargetInBuddyGroup reports whether targetUid is already a member of any
// buddy group, used by buddy-group creation's precondition check.
func TargetInBuddyGroup(tx *sql.Tx, targetUid types.Uid) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM buddy_groups WHERE primary_target_uid = ? OR secondary_target_uid = ?`,
		uint64(targetUid), uint64(targetUid)).Scan(&n)
	if err != nil {
		return false, mgmterr.New(mgmterr.Internal, err)
	}
	return n > 0, nil
}

// ListBuddyGroupsByType returns every buddy group of nodeType.
func ListBuddyGroupsByType(tx *sql.Tx, nodeType types.NodeType) ([]types.BuddyGroup, error) {
	rows, err := tx.Query(`SELECT uid, group_id, node_type, primary_target_uid, secondary_target_uid, pool_uid
		FROM buddy_groups WHERE node_type = ? ORDER BY group_id ASC`, string(nodeType))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.BuddyGroup
	for rows.Next() {
		var g types.BuddyGroup
		var uid, primary, secondary uint64
		var poolUid sql.NullInt64
		var nodeTypeStr string
		if err := rows.Scan(&uid, &g.GroupID, &nodeTypeStr, &primary, &secondary, &poolUid); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		g.Uid = types.Uid(uid)
		g.Type = types.NodeType(nodeTypeStr)
		g.PrimaryTarget = types.Uid(primary)
		g.SecondaryTarget = types.Uid(secondary)
		if poolUid.Valid {
			pu := types.Uid(poolUid.Int64)
			g.PoolUid = &pu
		}
		out = append(out, g)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// GetBuddyGroupByUid looks up a buddy group by its Uid.
func GetBuddyGroupByUid(tx *sql.Tx, uid types.Uid) (types.BuddyGroup, error) {
	row := tx.QueryRow(`SELECT uid, group_id, node_type, primary_target_uid, secondary_target_uid, pool_uid
		FROM buddy_groups WHERE uid = ?`, uint64(uid))

	var g types.BuddyGroup
	var rowUid, primary, secondary uint64
	var poolUid sql.NullInt64
	var nodeTypeStr string
	err := row.Scan(&rowUid, &g.GroupID, &nodeTypeStr, &primary, &secondary, &poolUid)
	if err == sql.ErrNoRows {
		return types.BuddyGroup{}, mgmterr.Newf(mgmterr.NotFound, "buddy group uid %d not found", uid)
	}
	if err != nil {
		return types.BuddyGroup{}, mgmterr.New(mgmterr.Internal, err)
	}
	g.Uid = types.Uid(rowUid)
	g.Type = types.NodeType(nodeTypeStr)
	g.PrimaryTarget = types.Uid(primary)
	g.SecondaryTarget = types.Uid(secondary)
	if poolUid.Valid {
		pu := types.Uid(poolUid.Int64)
		g.PoolUid = &pu
	}
	return g, nil
}

// GetBuddyGroupByTypeAndID looks up a buddy group by its natural
// (node_type, group_id) key.
func GetBuddyGroupByTypeAndID(tx *sql.Tx, nodeType types.NodeType, groupID uint16) (types.BuddyGroup, bool, error) {
	row := tx.QueryRow(`SELECT uid, group_id, node_type, primary_target_uid, secondary_target_uid, pool_uid
		FROM buddy_groups WHERE node_type = ? AND group_id = ?`, string(nodeType), groupID)

	var g types.BuddyGroup
	var uid, primary, secondary uint64
	var poolUid sql.NullInt64
	var nodeTypeStr string
	err := row.Scan(&uid, &g.GroupID, &nodeTypeStr, &primary, &secondary, &poolUid)
	if err == sql.ErrNoRows {
		return types.BuddyGroup{}, false, nil
	}
	if err != nil {
		return types.BuddyGroup{}, false, mgmterr.New(mgmterr.Internal, err)
	}
	g.Uid = types.Uid(uid)
	g.Type = types.NodeType(nodeTypeStr)
	g.PrimaryTarget = types.Uid(primary)
	g.SecondaryTarget = types.Uid(secondary)
	if poolUid.Valid {
		pu := types.Uid(poolUid.Int64)
		g.PoolUid = &pu
	}
	return g, true, nil
}

// DeleteBuddyGroup removes a buddy group row.
func DeleteBuddyGroup(tx *sql.Tx, uid types.Uid) error {
	res, err := tx.Exec(`DELETE FROM buddy_groups WHERE uid = ?`, uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	if n == 0 {
		return mgmterr.Newf(mgmterr.NotFound, "buddy group uid %d not found", uid)
	}
	return DeleteAlias(tx, uid)
}

// InsertPool creates a storage pool row.
func InsertPool(tx *sql.Tx, p types.Pool) error {
	_, err := tx.Exec(`INSERT INTO pools (uid, pool_id) VALUES (?, ?)`, uint64(p.Uid), p.PoolID)
	if err != nil {
		return mgmterr.New(mgmterr.Conflict, fmt.Errorf("insert pool: %w", err))
	}
	return nil
}

// EnsureDefaultPool returns the Uid of the distinguished default storage
// pool (types.DefaultPoolID), creating it on first use. A newly installed
// database has no pool rows at all, so the first storage target
// registration is what actually brings the default pool into existence.
func EnsureDefaultPool(tx *sql.Tx) (types.Uid, error) {
	p, found, err := GetPoolByPoolID(tx, types.DefaultPoolID)
	if err != nil {
		return 0, err
	}
	if found {
		return p.Uid, nil
	}
	uid, err := NextUid(tx)
	if err != nil {
		return 0, err
	}
	if err := InsertPool(tx, types.Pool{Uid: uid, PoolID: types.DefaultPoolID}); err != nil {
		return 0, err
	}
	return uid, nil
}

// GetPoolByPoolID looks up a storage pool by its natural pool_id.
func GetPoolByPoolID(tx *sql.Tx, poolID uint16) (types.Pool, bool, error) {
	var p types.Pool
	var uid uint64
	err := tx.QueryRow(`SELECT uid, pool_id FROM pools WHERE pool_id = ?`, poolID).Scan(&uid, &p.PoolID)
	if err == sql.ErrNoRows {
		return types.Pool{}, false, nil
	}
	if err != nil {
		return types.Pool{}, false, mgmterr.New(mgmterr.Internal, err)
	}
	p.Uid = types.Uid(uid)
	return p, true, nil
}

// PoolMemberCount counts targets and buddy groups assigned to poolUid, to
// enforce the "non-empty pool on delete" conflict.
func PoolMemberCount(tx *sql.Tx, poolUid types.Uid) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT
		(SELECT COUNT(*) FROM targets WHERE pool_uid = ?) +
		(SELECT COUNT(*) FROM buddy_groups WHERE pool_uid = ?)`,
		uint64(poolUid), uint64(poolUid)).Scan(&n)
	return n, mgmterr.New(mgmterr.Internal, err)
}

// DeletePool removes a pool row.
func DeletePool(tx *sql.Tx, uid types.Uid) error {
	res, err := tx.Exec(`DELETE FROM pools WHERE uid = ?`, uint64(uid))
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	if n == 0 {
		return mgmterr.Newf(mgmterr.NotFound, "pool uid %d not found", uid)
	}
	return DeleteAlias(tx, uid)
}

// ListPools returns every storage pool, ordered by pool_id.
func ListPools(tx *sql.Tx) ([]types.Pool, error) {
	rows, err := tx.Query(`SELECT uid, pool_id FROM pools ORDER BY pool_id ASC`)
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.Pool
	for rows.Next() {
		var uid uint64
		var p types.Pool
		if err := rows.Scan(&uid, &p.PoolID); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		p.Uid = types.Uid(uid)
		out = append(out, p)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// GetConfigEntry reads one dynamic configuration value, or "", false if
// unset.
func GetConfigEntry(tx *sql.Tx, key types.ConfigKey) (string, bool, error) {
	var v string
	err := tx.QueryRow(`SELECT value FROM config_entries WHERE key = ?`, string(key)).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, mgmterr.New(mgmterr.Internal, err)
	}
	return v, true, nil
}

// SetConfigEntry upserts a dynamic configuration value.
func SetConfigEntry(tx *sql.Tx, key types.ConfigKey, value string) error {
	_, err := tx.Exec(`INSERT INTO config_entries (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(key), value)
	return mgmterr.New(mgmterr.Internal, err)
}

// SetDefaultQuotaLimit upserts a pool-wide default quota limit.
func SetDefaultQuotaLimit(tx *sql.Tx, l types.QuotaDefaultLimit) error {
	_, err := tx.Exec(`INSERT INTO quota_default_limits (pool_id, id_type, quota_type, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(pool_id, id_type, quota_type) DO UPDATE SET value = excluded.value`,
		l.PoolID, string(l.IDType), string(l.Type), l.Value)
	return mgmterr.New(mgmterr.Internal, err)
}

// GetDefaultQuotaLimit reads a pool-wide default quota limit, or 0, false
// if unset.
func GetDefaultQuotaLimit(tx *sql.Tx, poolID uint16, idType types.IDType, quotaType types.QuotaType) (uint64, bool, error) {
	var v uint64
	err := tx.QueryRow(`SELECT value FROM quota_default_limits WHERE pool_id = ? AND id_type = ? AND quota_type = ?`,
		poolID, string(idType), string(quotaType)).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return v, err == nil, mgmterr.New(mgmterr.Internal, err)
}

// GetQuotaLimit reads a per-ID quota limit override, or 0, false if unset.
func GetQuotaLimit(tx *sql.Tx, quotaID uint32, idType types.IDType, quotaType types.QuotaType, poolID uint16) (uint64, bool, error) {
	var v uint64
	err := tx.QueryRow(`SELECT value FROM quota_limits WHERE quota_id = ? AND id_type = ? AND quota_type = ? AND pool_id = ?`,
		quotaID, string(idType), string(quotaType), poolID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return v, err == nil, mgmterr.New(mgmterr.Internal, err)
}

// SetQuotaLimit upserts a per-ID quota limit override.
func SetQuotaLimit(tx *sql.Tx, l types.QuotaLimit) error {
	_, err := tx.Exec(`INSERT INTO quota_limits (quota_id, id_type, quota_type, pool_id, value) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(quota_id, id_type, quota_type, pool_id) DO UPDATE SET value = excluded.value`,
		l.QuotaID, string(l.IDType), string(l.Type), l.PoolID, l.Value)
	return mgmterr.New(mgmterr.Internal, err)
}

// UpsertQuotaUsage records collected usage for one (quota_id, id_type,
// quota_type, target).
func UpsertQuotaUsage(tx *sql.Tx, u types.QuotaUsage) error {
	_, err := tx.Exec(`INSERT INTO quota_usage (quota_id, id_type, quota_type, target_id, value) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(quota_id, id_type, quota_type, target_id) DO UPDATE SET value = excluded.value`,
		u.QuotaID, string(u.IDType), string(u.Type), u.TargetID, u.Value)
	return mgmterr.New(mgmterr.Internal, err)
}

// ListQuotaLimitsPage returns up to limit per-ID quota limit overrides for
// (poolID, idType, quotaType) with quota_id > afterID, ordered by quota_id.
// The structured RPC's paged quota-limit stream advances afterID to the
// last row's quota_id on each page.
func ListQuotaLimitsPage(tx *sql.Tx, poolID uint16, idType types.IDType, quotaType types.QuotaType, afterID uint32, limit int) ([]types.QuotaLimit, error) {
	rows, err := tx.Query(`SELECT quota_id, value FROM quota_limits
		WHERE pool_id = ? AND id_type = ? AND quota_type = ? AND quota_id > ?
		ORDER BY quota_id LIMIT ?`, poolID, string(idType), string(quotaType), afterID, limit)
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.QuotaLimit
	for rows.Next() {
		l := types.QuotaLimit{IDType: idType, Type: quotaType, PoolID: poolID}
		if err := rows.Scan(&l.QuotaID, &l.Value); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out = append(out, l)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// ListQuotaUsagePage returns up to limit summed-usage rows for (poolID,
// idType, quotaType) with quota_id > afterID, ordered by quota_id. Usage is
// summed across every target in the pool the same way SummedQuotaUsage
// does, just paged and ordered for a streaming cursor instead of returned
// as a single map.
func ListQuotaUsagePage(tx *sql.Tx, poolID uint16, idType types.IDType, quotaType types.QuotaType, afterID uint32, limit int) ([]types.QuotaUsage, error) {
	rows, err := tx.Query(`SELECT u.quota_id, SUM(u.value)
		FROM quota_usage u
		JOIN targets t ON t.target_id = u.target_id
		JOIN pools p ON p.uid = t.pool_uid
		WHERE p.pool_id = ? AND u.id_type = ? AND u.quota_type = ? AND u.quota_id > ?
		GROUP BY u.quota_id ORDER BY u.quota_id LIMIT ?`,
		poolID, string(idType), string(quotaType), afterID, limit)
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []types.QuotaUsage
	for rows.Next() {
		u := types.QuotaUsage{IDType: idType, Type: quotaType}
		if err := rows.Scan(&u.QuotaID, &u.Value); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out = append(out, u)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// ListDistinctQuotaIDs returns every quota_id that has a per-ID limit
// override recorded for idType, across every pool, used to seed the
// quota aggregator's tracked-ID set from whatever has been explicitly
// configured rather than from an external account source.
func ListDistinctQuotaIDs(tx *sql.Tx, idType types.IDType) ([]uint32, error) {
	rows, err := tx.Query(`SELECT DISTINCT quota_id FROM quota_limits WHERE id_type = ? ORDER BY quota_id`, string(idType))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out = append(out, id)
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// SummedQuotaUsage returns, for every quota_id with usage recorded under
// (poolID, idType, quotaType), the sum of its usage across all targets in
// that pool.
func SummedQuotaUsage(tx *sql.Tx, poolID uint16, idType types.IDType, quotaType types.QuotaType) (map[uint32]uint64, error) {
	rows, err := tx.Query(`SELECT u.quota_id, SUM(u.value)
		FROM quota_usage u
		JOIN targets t ON t.target_id = u.target_id
		JOIN pools p ON p.uid = t.pool_uid
		WHERE p.pool_id = ? AND u.id_type = ? AND u.quota_type = ?
		GROUP BY u.quota_id`, poolID, string(idType), string(quotaType))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, err)
	}
	defer rows.Close()

	out := make(map[uint32]uint64)
	for rows.Next() {
		var id uint32
		var sum uint64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, mgmterr.New(mgmterr.Internal, err)
		}
		out[id] = sum
	}
	return out, mgmterr.New(mgmterr.Internal, rows.Err())
}

// GetRootInode reads the filesystem root owner, or NotFound if unset.
func GetRootInode(tx *sql.Tx) (types.RootInode, error) {
	var r types.RootInode
	var ownerKind string
	var ownerUid uint64
	err := tx.QueryRow(`SELECT owner_kind, owner_uid FROM root_inode WHERE id = 1`).Scan(&ownerKind, &ownerUid)
	if err == sql.ErrNoRows {
		return types.RootInode{}, mgmterr.Newf(mgmterr.NotFound, "root inode owner not set")
	}
	if err != nil {
		return types.RootInode{}, mgmterr.New(mgmterr.Internal, err)
	}
	r.OwnerKind = types.RootOwnerKind(ownerKind)
	r.OwnerUid = types.Uid(ownerUid)
	return r, nil
}

// SetRootInode upserts the single filesystem root owner row.
func SetRootInode(tx *sql.Tx, r types.RootInode) error {
	_, err := tx.Exec(`INSERT INTO root_inode (id, owner_kind, owner_uid) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_kind = excluded.owner_kind, owner_uid = excluded.owner_uid`,
		string(r.OwnerKind), uint64(r.OwnerUid))
	return mgmterr.New(mgmterr.Internal, err)
}
