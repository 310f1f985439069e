package lookup

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"github.com/dbehnke/dvgateway/internal/database"
)

// DatabaseLookup serves one network's ids from the radio user table, kept
// fresh by the radioid syncer. Recent answers are cached.
type DatabaseLookup struct {
	repository *database.RadioUserRepository
	network    string
	logger     *log.Logger

	mu          sync.Mutex
	cacheSize   int
	cacheExpiry time.Duration
	cache       map[uint32]string // "" marks a known miss
	cleared     time.Time

	hits, misses, errors uint32
}

// NewDatabaseLookup creates a lookup over network's users.
func NewDatabaseLookup(repository *database.RadioUserRepository, network string, logger *log.Logger) *DatabaseLookup {
	if logger == nil {
		logger = log.Default()
	}
	return &DatabaseLookup{
		repository:  repository,
		network:     network,
		logger:      logger.With("ids", strings.ToLower(network)),
		cacheSize:   1000,
		cacheExpiry: 5 * time.Minute,
		cache:       make(map[uint32]string),
		cleared:     time.Now(),
	}
}

// lookup returns the callsign for id and whether it is known.
func (d *DatabaseLookup) lookup(id uint32) (string, bool) {
	d.mu.Lock()
	if time.Since(d.cleared) > d.cacheExpiry || len(d.cache) >= d.cacheSize {
		clear(d.cache)
		d.cleared = time.Now()
	}
	cs, cached := d.cache[id]
	d.mu.Unlock()
	if cached {
		if cs != "" {
			d.count(&d.hits)
		} else {
			d.count(&d.misses)
		}
		return cs, cs != ""
	}

	user, err := d.repository.GetByRadioID(d.network, id)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		d.count(&d.misses)
	case err != nil:
		d.count(&d.errors)
		d.logger.Debug("id lookup failed", "id", id, "err", err)
		return "", false
	default:
		d.count(&d.hits)
		cs = user.Callsign
	}

	d.mu.Lock()
	d.cache[id] = cs
	d.mu.Unlock()
	return cs, cs != ""
}

func (d *DatabaseLookup) count(c *uint32) {
	d.mu.Lock()
	*c++
	d.mu.Unlock()
}

func (d *DatabaseLookup) FindCS(id uint32) string {
	if id == ID_ALL {
		return "ALL"
	}
	if cs, ok := d.lookup(id); ok {
		return cs
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (d *DatabaseLookup) FindID(callsign string) uint32 {
	callsign = strings.ToUpper(strings.TrimSpace(callsign))
	if callsign == "" {
		return ID_UNKNOWN
	}
	user, err := d.repository.GetByCallsign(d.network, callsign)
	if err != nil {
		return ID_UNKNOWN
	}
	return user.RadioID
}

func (d *DatabaseLookup) Exists(id uint32) bool {
	if id == ID_ALL {
		return true
	}
	_, ok := d.lookup(id)
	return ok
}

func (d *DatabaseLookup) EntryCount() uint32 {
	n, err := d.repository.Count(d.network)
	if err != nil {
		d.logger.Debug("count failed", "err", err)
		return 0
	}
	return uint32(n)
}

// Stats returns cache hits, misses and database errors.
func (d *DatabaseLookup) Stats() (hits, misses, errors uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits, d.misses, d.errors
}

// Flush empties the cache, typically after a sync.
func (d *DatabaseLookup) Flush() {
	d.mu.Lock()
	clear(d.cache)
	d.cleared = time.Now()
	d.mu.Unlock()
}
