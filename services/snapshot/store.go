package snapshot

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/infergate/infergate/models"
)

// Store holds the live snapshot. Readers take the current pointer once per
// request; Replace installs a new snapshot without blocking them.
type Store struct {
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// Current returns the live snapshot, or nil before the first Replace.
func (st *Store) Current() *Snapshot {
	return st.current.Load()
}

// Replace compiles cfg into a new snapshot and swaps it in. On build failure
// the previous snapshot stays live and keeps serving; failed builds leave a
// gap in the version sequence, which is harmless.
func (st *Store) Replace(cfg *models.GatewayConfig) (*Snapshot, error) {
	version := st.version.Add(1)
	snap, err := Build(cfg, version)
	if err != nil {
		return nil, err
	}
	st.current.Store(snap)
	st.logger.Info("gateway configuration swapped",
		zap.Uint64("version", version),
		zap.Int("routes", len(snap.Config.Routes)),
		zap.Int("backends", len(snap.Config.Backends)),
		zap.Int("policies", len(snap.Config.Policies)))
	return snap, nil
}
