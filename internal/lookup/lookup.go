package lookup

import "strconv"

// Special radio ids
const (
	ID_ALL     = 0xFFFFFF // DMR all-call, always named "ALL"
	ID_UNKNOWN = 0
)

// Lookup maps radio ids to callsigns for one network.
type Lookup interface {
	// FindCS returns the callsign for id, or id in decimal when unknown.
	FindCS(id uint32) string
	// FindID returns the id for callsign, or ID_UNKNOWN.
	FindID(callsign string) uint32
	Exists(id uint32) bool
	EntryCount() uint32
}

// Chain asks each lookup in turn and returns the first real callsign.
type Chain []Lookup

func (c Chain) FindCS(id uint32) string {
	if id == ID_ALL {
		return "ALL"
	}
	for _, l := range c {
		if l.Exists(id) {
			return l.FindCS(id)
		}
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (c Chain) FindID(callsign string) uint32 {
	for _, l := range c {
		if id := l.FindID(callsign); id != ID_UNKNOWN {
			return id
		}
	}
	return ID_UNKNOWN
}

func (c Chain) Exists(id uint32) bool {
	if id == ID_ALL {
		return true
	}
	for _, l := range c {
		if l.Exists(id) {
			return true
		}
	}
	return false
}

func (c Chain) EntryCount() uint32 {
	var n uint32
	for _, l := range c {
		n += l.EntryCount()
	}
	return n
}
