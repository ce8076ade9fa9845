package meas

// Status reports the outcome of an append call: how many measurements
// were written against how many were ignored (rejected outright,
// e.g. because the engine had already begun stopping).
type Status struct {
	Writes  int
	Ignored int
}

// Add accumulates another Status into s.
func (s *Status) Add(other Status) {
	s.Writes += other.Writes
	s.Ignored += other.Ignored
}
