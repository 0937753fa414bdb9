package capacity

import (
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// Limits is the static pair of thresholds per axis below which a target
// drops out of Normal (the low threshold) or out of Low entirely (the
// emergency threshold).
type Limits struct {
	SpaceLow        uint64
	SpaceEmergency  uint64
	InodesLow       uint64
	InodesEmergency uint64
}

// DynamicLimits holds the alternate thresholds calibration may switch in,
// plus the per-axis spread thresholds that trigger the switch.
type DynamicLimits struct {
	SpaceLow        uint64
	SpaceEmergency  uint64
	InodesLow       uint64
	InodesEmergency uint64

	SpaceNormalThreshold  uint64
	SpaceLowThreshold     uint64
	InodesNormalThreshold uint64
	InodesLowThreshold    uint64
}

// Sample is one target's (or buddy group's) free space/inodes pair, as
// fed both to calibration and to Classify itself.
type Sample struct {
	FreeSpace  uint64
	FreeInodes uint64
}

// Validate checks that low >= emergency on both axes, for limits and, if
// present, dyn. A Limits record that fails this can never be used to
// classify anything and is rejected at configuration load time.
func Validate(limits Limits, dyn *DynamicLimits) error {
	if limits.SpaceLow < limits.SpaceEmergency {
		return mgmterr.Newf(mgmterr.Invalid, "space low limit %d is below emergency limit %d", limits.SpaceLow, limits.SpaceEmergency)
	}
	if limits.InodesLow < limits.InodesEmergency {
		return mgmterr.Newf(mgmterr.Invalid, "inodes low limit %d is below emergency limit %d", limits.InodesLow, limits.InodesEmergency)
	}
	if dyn == nil {
		return nil
	}
	if dyn.SpaceLow < dyn.SpaceEmergency {
		return mgmterr.Newf(mgmterr.Invalid, "dynamic space low limit %d is below emergency limit %d", dyn.SpaceLow, dyn.SpaceEmergency)
	}
	if dyn.InodesLow < dyn.InodesEmergency {
		return mgmterr.Newf(mgmterr.Invalid, "dynamic inodes low limit %d is below emergency limit %d", dyn.InodesLow, dyn.InodesEmergency)
	}
	return nil
}

// classifyStatic applies the fixed three-bucket rule for one sample under
// limits.
func classifyStatic(limits Limits, s Sample) types.CapacityCategory {
	if s.FreeSpace >= limits.SpaceLow && s.FreeInodes >= limits.InodesLow {
		return types.CapacityNormal
	}
	if s.FreeSpace >= limits.SpaceEmergency && s.FreeInodes >= limits.InodesEmergency {
		return types.CapacityLow
	}
	return types.CapacityEmergency
}

// spread tracks the running min/max of an axis across a population, used
// by calibration to measure how tightly clustered that population is.
type spread struct {
	min, max uint64
	seen     bool
}

func (sp *spread) observe(v uint64) {
	if !sp.seen {
		sp.min, sp.max, sp.seen = v, v, true
		return
	}
	if v < sp.min {
		sp.min = v
	}
	if v > sp.max {
		sp.max = v
	}
}

func (sp *spread) width() uint64 {
	if !sp.seen {
		return 0
	}
	return sp.max - sp.min
}

// calibrate scans samples under the static limits and returns the
// effective Limits to classify with, raising the low/emergency thresholds
// to their dynamic values when the corresponding population's spread
// exceeds the configured threshold for that axis.
func calibrate(limits Limits, dyn DynamicLimits, samples []Sample) Limits {
	var normalSpace, normalInodes, lowSpace, lowInodes spread

	for _, s := range samples {
		switch classifyStatic(limits, s) {
		case types.CapacityNormal:
			normalSpace.observe(s.FreeSpace)
			normalInodes.observe(s.FreeInodes)
		case types.CapacityLow:
			lowSpace.observe(s.FreeSpace)
			lowInodes.observe(s.FreeInodes)
		}
	}

	effective := limits
	if normalSpace.width() > dyn.SpaceNormalThreshold {
		effective.SpaceLow = dyn.SpaceLow
	}
	if normalInodes.width() > dyn.InodesNormalThreshold {
		effective.InodesLow = dyn.InodesLow
	}
	if lowSpace.width() > dyn.SpaceLowThreshold {
		effective.SpaceEmergency = dyn.SpaceEmergency
	}
	if lowInodes.width() > dyn.InodesLowThreshold {
		effective.InodesEmergency = dyn.InodesEmergency
	}
	return effective
}

// Classify returns target's capacity category under limits. If dyn and
// samples are non-nil, the thresholds are first recalibrated against the
// population in samples (typically every target or group in the same
// pool, including target itself).
func Classify(limits Limits, dyn *DynamicLimits, samples []Sample, target Sample) types.CapacityCategory {
	effective := limits
	if dyn != nil {
		effective = calibrate(limits, *dyn, samples)
	}
	return classifyStatic(effective, target)
}

// PairMin returns the element-wise minimum of a and b, the input a buddy
// group's classification uses in place of a single target's sample.
func PairMin(a, b Sample) Sample {
	return Sample{
		FreeSpace:  minUint64(a.FreeSpace, b.FreeSpace),
		FreeInodes: minUint64(a.FreeInodes, b.FreeInodes),
	}
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
