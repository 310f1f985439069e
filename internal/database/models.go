package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// Radio ID networks. DMR and NXDN ids overlap, so each user row is keyed by
// network and id together.
const (
	NETWORK_DMR  = "DMR"
	NETWORK_NXDN = "NXDN"
)

// RadioUser represents one registered radio id
type RadioUser struct {
	Network   string    `gorm:"primaryKey;size:8" json:"network"`
	RadioID   uint32    `gorm:"primaryKey;autoIncrement:false" json:"radio_id"`
	Callsign  string    `gorm:"index;size:20" json:"callsign"`
	FirstName string    `gorm:"size:50" json:"first_name"`
	LastName  string    `gorm:"size:50" json:"last_name"`
	City      string    `gorm:"size:50" json:"city"`
	State     string    `gorm:"size:50" json:"state"`
	Country   string    `gorm:"size:50" json:"country"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RadioUser) TableName() string {
	return "radio_users"
}

// FullName returns the formatted full name
func (u RadioUser) FullName() string {
	return joinNonEmpty(" ", u.FirstName, u.LastName)
}

// Location returns "City, State, Country" with blanks left out
func (u RadioUser) Location() string {
	return joinNonEmpty(", ", u.City, u.State, u.Country)
}

func (u RadioUser) String() string {
	result := fmt.Sprintf("%s (%s %d)", u.Callsign, u.Network, u.RadioID)
	if name := u.FullName(); name != "" {
		result += " - " + name
	}
	if loc := u.Location(); loc != "" {
		result += " [" + loc + "]"
	}
	return result
}

// IsValid checks if the user record has required fields
func (u RadioUser) IsValid() bool {
	return u.RadioID > 0 && u.Callsign != "" && (u.Network == NETWORK_DMR || u.Network == NETWORK_NXDN)
}

// SanitizeFields cleans up all user fields
func (u *RadioUser) SanitizeFields() {
	u.Network = strings.ToUpper(strings.TrimSpace(u.Network))
	u.Callsign = strings.ToUpper(strings.TrimSpace(u.Callsign))
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	u.City = strings.TrimSpace(u.City)
	u.State = strings.TrimSpace(u.State)
	u.Country = strings.TrimSpace(u.Country)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// CallRecord is one finished receive stream.
type CallRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Backend   string    `gorm:"index;size:8" json:"backend"`
	StreamID  uint32    `json:"stream_id"`
	Src       string    `gorm:"index;size:20" json:"src"`
	Dst       string    `gorm:"size:20" json:"dst"`
	SrcID     uint32    `json:"src_id"`
	DstID     uint32    `json:"dst_id"`
	Gateway   string    `gorm:"size:20" json:"gateway"`
	Text      string    `gorm:"size:64" json:"text"`
	StartedAt time.Time `gorm:"index" json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Frames    int       `json:"frames"`
	Errors    int       `json:"errors"`
	Lost      bool      `json:"lost"`
}

func (CallRecord) TableName() string {
	return "call_log"
}

// NewCallRecord converts a finished call.
func NewCallRecord(c protocol.Call) CallRecord {
	return CallRecord{
		Backend:   c.Kind.String(),
		StreamID:  c.StreamID,
		Src:       strings.TrimSpace(c.Src),
		Dst:       strings.TrimSpace(c.Dst),
		SrcID:     c.SrcID,
		DstID:     c.DstID,
		Gateway:   strings.TrimSpace(c.Gateway),
		Text:      strings.TrimSpace(c.Text),
		StartedAt: c.Start,
		EndedAt:   c.End,
		Frames:    c.Frames,
		Errors:    c.Errors,
		Lost:      c.Lost,
	}
}

// Duration is the time between the first and last frame.
func (r CallRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func (r CallRecord) String() string {
	state := "end"
	if r.Lost {
		state = "lost"
	}
	return fmt.Sprintf("%s %s -> %s %.1fs %d frames (%s)", r.Backend, r.Src, r.Dst, r.Duration().Seconds(), r.Frames, state)
}
