// Package meas defines the atomic record the whole engine is built
// around (Meas), the opaque series identifier, and the query shapes the
// engine facade accepts.
package meas

// NoData is the reserved flag value marking "no observation". It is
// never produced by a real append; the engine facade fills gaps in
// time-point/current-value results with a Meas carrying this flag.
const NoData uint32 = 0xFFFFFFFF

// Id is the opaque series identifier. The engine assigns no meaning to
// it beyond equality and ordering.
type Id = uint64

// Time is a millisecond-resolution Unix timestamp.
type Time = uint64

// Meas is the atomic measurement record: a single (series, time, value)
// observation carrying an arbitrary user tag.
type Meas struct {
	Id    Id
	Time  Time
	Value float64
	Flag  uint32
}

// IsNoData reports whether m is a filler record produced to stand in
// for a missing observation.
func (m Meas) IsNoData() bool {
	return m.Flag == NoData
}

// NoDataAt builds the sentinel filler record for id at t.
func NoDataAt(id Id, t Time) Meas {
	return Meas{Id: id, Time: t, Flag: NoData}
}

// Less orders measurements by (Id, Time), the sort order the dropper
// and page writer require before a batch can be compacted into a page.
func Less(a, b Meas) bool {
	if a.Id != b.Id {
		return a.Id < b.Id
	}

	return a.Time < b.Time
}
