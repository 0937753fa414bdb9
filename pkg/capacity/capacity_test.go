package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

func TestValidate_RejectsLowBelowEmergency(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		dyn     *DynamicLimits
		wantErr bool
	}{
		{
			name:   "valid static limits",
			limits: Limits{SpaceLow: 100, SpaceEmergency: 50, InodesLow: 100, InodesEmergency: 50},
		},
		{
			name:    "space low below emergency",
			limits:  Limits{SpaceLow: 40, SpaceEmergency: 50, InodesLow: 100, InodesEmergency: 50},
			wantErr: true,
		},
		{
			name:    "inodes low below emergency",
			limits:  Limits{SpaceLow: 100, SpaceEmergency: 50, InodesLow: 40, InodesEmergency: 50},
			wantErr: true,
		},
		{
			name:   "equal low and emergency is valid",
			limits: Limits{SpaceLow: 50, SpaceEmergency: 50, InodesLow: 50, InodesEmergency: 50},
		},
		{
			name:   "valid dynamic limits",
			limits: Limits{SpaceLow: 100, SpaceEmergency: 50, InodesLow: 100, InodesEmergency: 50},
			dyn:    &DynamicLimits{SpaceLow: 200, SpaceEmergency: 100, InodesLow: 200, InodesEmergency: 100},
		},
		{
			name:    "dynamic space low below emergency",
			limits:  Limits{SpaceLow: 100, SpaceEmergency: 50, InodesLow: 100, InodesEmergency: 50},
			dyn:     &DynamicLimits{SpaceLow: 50, SpaceEmergency: 100, InodesLow: 200, InodesEmergency: 100},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.limits, tc.dyn)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, mgmterr.Invalid, mgmterr.KindOf(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func staticLimits() Limits {
	return Limits{SpaceLow: 1000, SpaceEmergency: 200, InodesLow: 1000, InodesEmergency: 200}
}

func TestClassify_StaticThreeBuckets(t *testing.T) {
	limits := staticLimits()

	tests := []struct {
		name   string
		sample Sample
		want   types.CapacityCategory
	}{
		{"both above low", Sample{FreeSpace: 2000, FreeInodes: 2000}, types.CapacityNormal},
		{"exactly at low boundary", Sample{FreeSpace: 1000, FreeInodes: 1000}, types.CapacityNormal},
		{"space below low but inodes fine", Sample{FreeSpace: 999, FreeInodes: 2000}, types.CapacityLow},
		{"inodes below low but space fine", Sample{FreeSpace: 2000, FreeInodes: 999}, types.CapacityLow},
		{"exactly at emergency boundary", Sample{FreeSpace: 200, FreeInodes: 200}, types.CapacityLow},
		{"space below emergency", Sample{FreeSpace: 199, FreeInodes: 2000}, types.CapacityEmergency},
		{"inodes below emergency", Sample{FreeSpace: 2000, FreeInodes: 199}, types.CapacityEmergency},
		{"both zero", Sample{FreeSpace: 0, FreeInodes: 0}, types.CapacityEmergency},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(limits, nil, nil, tc.sample)
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestClassify_MonotonicPerAxis verifies the documented invariant that
// increasing free_space (holding free_inodes fixed), or vice-versa, never
// downgrades the category.
func TestClassify_MonotonicPerAxis(t *testing.T) {
	limits := staticLimits()
	rank := map[types.CapacityCategory]int{
		types.CapacityEmergency: 0,
		types.CapacityLow:       1,
		types.CapacityNormal:    2,
	}

	spaceValues := []uint64{0, 100, 199, 200, 500, 999, 1000, 1500}
	for i := 1; i < len(spaceValues); i++ {
		prev := Classify(limits, nil, nil, Sample{FreeSpace: spaceValues[i-1], FreeInodes: 5000})
		next := Classify(limits, nil, nil, Sample{FreeSpace: spaceValues[i], FreeInodes: 5000})
		assert.GreaterOrEqual(t, rank[next], rank[prev], "free_space %d -> %d regressed category", spaceValues[i-1], spaceValues[i])
	}

	inodeValues := []uint64{0, 100, 199, 200, 500, 999, 1000, 1500}
	for i := 1; i < len(inodeValues); i++ {
		prev := Classify(limits, nil, nil, Sample{FreeSpace: 5000, FreeInodes: inodeValues[i-1]})
		next := Classify(limits, nil, nil, Sample{FreeSpace: 5000, FreeInodes: inodeValues[i]})
		assert.GreaterOrEqual(t, rank[next], rank[prev], "free_inodes %d -> %d regressed category", inodeValues[i-1], inodeValues[i])
	}
}

func TestClassify_DynamicCalibrationRaisesLowThreshold(t *testing.T) {
	limits := staticLimits()
	dyn := DynamicLimits{
		SpaceLow:              1500,
		SpaceEmergency:        200,
		InodesLow:             1000,
		InodesEmergency:       200,
		SpaceNormalThreshold:  50, // small: the Normal population's spread will exceed it
		SpaceLowThreshold:     10000,
		InodesNormalThreshold: 10000,
		InodesLowThreshold:    10000,
	}

	// Two samples land in Normal under the static limits, but spread
	// 2000 apart on the space axis, well past SpaceNormalThreshold.
	samples := []Sample{
		{FreeSpace: 1100, FreeInodes: 5000},
		{FreeSpace: 3100, FreeInodes: 5000},
	}

	target := Sample{FreeSpace: 1200, FreeInodes: 5000}
	// Under the static low threshold (1000) this would be Normal; once
	// calibration raises the effective low threshold to 1500, it drops
	// to Low.
	got := Classify(limits, &dyn, samples, target)
	assert.Equal(t, types.CapacityLow, got)
}

func TestClassify_DynamicCalibrationRaisesEmergencyThreshold(t *testing.T) {
	limits := staticLimits()
	dyn := DynamicLimits{
		SpaceLow:              1000,
		SpaceEmergency:        500,
		InodesLow:             1000,
		InodesEmergency:       200,
		SpaceNormalThreshold:  10000,
		SpaceLowThreshold:     50, // small: the Low population's spread will exceed it
		InodesNormalThreshold: 10000,
		InodesLowThreshold:    10000,
	}

	// Two samples land in Low under the static limits (space between
	// emergency=200 and low=1000), spread far enough apart to trip
	// SpaceLowThreshold.
	samples := []Sample{
		{FreeSpace: 300, FreeInodes: 5000},
		{FreeSpace: 900, FreeInodes: 5000},
	}

	target := Sample{FreeSpace: 400, FreeInodes: 5000}
	// Under the static emergency threshold (200) this would stay Low;
	// once calibration raises it to 500, the target falls to Emergency.
	got := Classify(limits, &dyn, samples, target)
	assert.Equal(t, types.CapacityEmergency, got)
}

func TestClassify_DynamicCalibrationNoOpWhenSpreadWithinThreshold(t *testing.T) {
	limits := staticLimits()
	dyn := DynamicLimits{
		SpaceLow:              1500,
		SpaceEmergency:        500,
		InodesLow:             1000,
		InodesEmergency:       200,
		SpaceNormalThreshold:  10000, // generous: spread of 50 never trips it
		SpaceLowThreshold:     10000,
		InodesNormalThreshold: 10000,
		InodesLowThreshold:    10000,
	}

	samples := []Sample{
		{FreeSpace: 1100, FreeInodes: 5000},
		{FreeSpace: 1150, FreeInodes: 5000},
	}

	target := Sample{FreeSpace: 1200, FreeInodes: 5000}
	got := Classify(limits, &dyn, samples, target)
	assert.Equal(t, types.CapacityNormal, got)
}

func TestPairMin_ElementWise(t *testing.T) {
	a := Sample{FreeSpace: 100, FreeInodes: 900}
	b := Sample{FreeSpace: 300, FreeInodes: 50}

	got := PairMin(a, b)
	assert.Equal(t, Sample{FreeSpace: 100, FreeInodes: 50}, got)
}

func TestClassify_BuddyGroupUsesElementWiseMinimum(t *testing.T) {
	limits := staticLimits()
	primary := Sample{FreeSpace: 2000, FreeInodes: 150} // below inodes emergency
	secondary := Sample{FreeSpace: 150, FreeInodes: 2000} // below space emergency

	combined := PairMin(primary, secondary)
	got := Classify(limits, nil, nil, combined)
	assert.Equal(t, types.CapacityEmergency, got)
}
