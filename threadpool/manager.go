package threadpool

// Manager owns the engine's named pools for the duration of one engine
// instance, replacing DariaDB's global thread-manager singleton.
type Manager struct {
	pools map[Kind]*Pool
}

// NewManager starts two pools: COMMON sized 4 for CPU-bound merges,
// DISK_IO sized 1 as a strict single writer for compaction.
func NewManager() *Manager {
	return &Manager{
		pools: map[Kind]*Pool{
			Common: New(Common, 4, 256),
			DiskIO: New(DiskIO, 1, 256),
		},
	}
}

// Pool returns the named pool, or nil if kind is unknown.
func (m *Manager) Pool(kind Kind) *Pool { return m.pools[kind] }

// Stop stops every pool, draining each queue first.
func (m *Manager) Stop() {
	for _, p := range m.pools {
		p.Stop()
	}
}
