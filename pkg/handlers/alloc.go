package handlers

import "github.com/beegfs-io/mgmtd/pkg/mgmterr"

// maxServerID is the highest numeric id a server node or target may hold;
// the 16-bit legacy wire field is the limiting factor, not storage.
const maxServerID = 65535

// lowestFreeUint16 returns the smallest id in 1..=maxServerID not present
// in taken.
func lowestFreeUint16(taken map[uint16]bool) (uint16, error) {
	for id := uint16(1); id <= maxServerID; id++ {
		if !taken[id] {
			return id, nil
		}
		if id == maxServerID {
			break
		}
	}
	return 0, mgmterr.Newf(mgmterr.Policy, "no free id in range 1..=%d", maxServerID)
}
