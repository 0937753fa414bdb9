package handlers

import (
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"github.com/beegfs-io/mgmtd/pkg/config"
	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/runstate"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// StaticInfo is the immutable-after-startup snapshot handlers consult:
// the parsed configuration, cached license capability flags, and this
// process's own advertised network addresses.
type StaticInfo struct {
	Config          config.Config
	LicenseFeatures map[string]bool
	Addresses       []netip.Addr
}

// HasFeature reports whether the license permits feature, defaulting to
// permitted when no license file was configured at all.
func (s *StaticInfo) HasFeature(feature string) bool {
	if s.LicenseFeatures == nil {
		return true
	}
	return s.LicenseFeatures[feature]
}

// PullSink tracks which clients have pulled a full state snapshot via
// GetStatesAndBuddyGroups since they were last marked dirty. GetNodes
// does not record a pull, and the shutdown sequence does not consult the
// sink: it neither waits for clients to pull nor reads HasPulled.
type PullSink struct {
	mu     sync.Mutex
	pulled map[types.Uid]struct{}
}

// NewPullSink builds an empty sink.
func NewPullSink() *PullSink {
	return &PullSink{pulled: make(map[types.Uid]struct{})}
}

// MarkPulled records that clientUid has observed current state.
func (s *PullSink) MarkPulled(clientUid types.Uid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulled[clientUid] = struct{}{}
}

// MarkDirty forgets a prior pull from clientUid. Node registration calls
// it when it creates a new node; other topology changes do not.
func (s *PullSink) MarkDirty(clientUid types.Uid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pulled, clientUid)
}

// HasPulled reports whether clientUid has pulled state since it was last
// marked dirty.
func (s *PullSink) HasPulled(clientUid types.Uid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pulled[clientUid]
	return ok
}

// Context is the application context every handler receives: C5's
// contract over C4 (store), C2 (connection pool), static configuration,
// the run-state probe, and the drain sink.
type Context struct {
	Store    *store.Store
	Pool     *connpool.Pool
	Static   *StaticInfo
	RunState *runstate.Controller
	Pulled   *PullSink
	Logger   zerolog.Logger
}
