package session

import (
	"strconv"
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// State is the receive stream state.
type State int

const (
	IDLE State = iota
	NEW
	STREAMING
	END
	LOST
)

func (s State) String() string {
	switch s {
	case NEW:
		return "NEW"
	case STREAMING:
		return "STREAMING"
	case END:
		return "END"
	case LOST:
		return "LOST"
	default:
		return "IDLE"
	}
}

// Stream is the receive side of one call.
type Stream struct {
	State    State
	ID       uint32
	Src      string
	Dst      string
	SrcID    uint32
	DstID    uint32
	Gateway  string
	Text     string
	Frames   int
	Errors   int
	Watchdog int
	Start    time.Time
	Last     time.Time
}

// Active reports whether frames are still expected.
func (s *Stream) Active() bool {
	return s.State == NEW || s.State == STREAMING
}

// begin opens stream id, forgetting everything about the previous one.
func (s *Stream) begin(id uint32, now time.Time) {
	*s = Stream{State: NEW, ID: id, Start: now, Last: now}
}

// update copies identity fields from ev. Radio ids are named through dir
// when the backend supplied no callsign.
func (s *Stream) update(ev protocol.Event, dir Directory) {
	if ev.SrcID != 0 && ev.SrcID != s.SrcID {
		s.SrcID = ev.SrcID
		if ev.Src == "" {
			s.Src = lookupID(dir, ev.SrcID)
		}
	}
	if ev.DstID != 0 && ev.DstID != s.DstID {
		s.DstID = ev.DstID
		if ev.Dst == "" {
			s.Dst = strconv.FormatUint(uint64(ev.DstID), 10)
		}
	}
	if ev.Src != "" {
		s.Src = ev.Src
	}
	if ev.Dst != "" {
		s.Dst = ev.Dst
	}
	if ev.Gateway != "" {
		s.Gateway = ev.Gateway
	}
	if ev.Text != "" {
		s.Text = ev.Text
	}
}

func lookupID(dir Directory, id uint32) string {
	if dir != nil {
		if cs := dir.FindCS(id); cs != "" {
			return cs
		}
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Call summarises the stream for the call log.
func (s *Stream) Call(kind protocol.Kind, end time.Time, lost bool) protocol.Call {
	return protocol.Call{
		Kind:     kind,
		StreamID: s.ID,
		Src:      s.Src,
		Dst:      s.Dst,
		SrcID:    s.SrcID,
		DstID:    s.DstID,
		Gateway:  s.Gateway,
		Text:     s.Text,
		Start:    s.Start,
		End:      end,
		Frames:   s.Frames,
		Errors:   s.Errors,
		Lost:     lost,
	}
}
