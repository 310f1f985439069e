package radioid

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dbehnke/dvgateway/internal/database"
)

const (
	DMR_URL  = "https://radioid.net/static/user.csv"
	NXDN_URL = "https://radioid.net/static/nxdn.csv"

	DefaultSyncInterval = 24 * time.Hour
	RequestTimeout      = 30 * time.Second

	MaxRetries = 3
	RetryDelay = 5 * time.Second
)

// Source is one downloadable id list.
type Source struct {
	Network string // database.NETWORK_DMR or database.NETWORK_NXDN
	URL     string
}

// DefaultSources are the radioid.net DMR and NXDN user lists.
var DefaultSources = []Source{
	{Network: database.NETWORK_DMR, URL: DMR_URL},
	{Network: database.NETWORK_NXDN, URL: NXDN_URL},
}

// Syncer keeps the radio user table in step with the upstream lists.
type Syncer struct {
	repository   *database.RadioUserRepository
	logger       *log.Logger
	sources      []Source
	syncInterval time.Duration
	retryDelay   time.Duration
	httpClient   *http.Client

	// OnSync runs after a source was imported, e.g. to flush lookup caches.
	OnSync func(network string)
}

// SyncerConfig holds configuration for the syncer
type SyncerConfig struct {
	Sources      []Source      // default: DefaultSources
	SyncInterval time.Duration // default: 24 hours
	HTTPTimeout  time.Duration // default: 30 seconds
	RetryDelay   time.Duration // default: 5 seconds
}

// NewSyncer creates a syncer with custom configuration
func NewSyncer(repository *database.RadioUserRepository, logger *log.Logger, config SyncerConfig) *Syncer {
	if len(config.Sources) == 0 {
		config.Sources = DefaultSources
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = RequestTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = RetryDelay
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Syncer{
		repository:   repository,
		logger:       logger.With("component", "radioid"),
		sources:      config.Sources,
		syncInterval: config.SyncInterval,
		retryDelay:   config.RetryDelay,
		httpClient:   &http.Client{Timeout: config.HTTPTimeout},
	}
}

// Run syncs stale sources now and then every interval until ctx ends.
func (s *Syncer) Run(ctx context.Context) {
	s.logger.Info("syncer starting", "interval", s.syncInterval)
	s.syncStale(ctx)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer stopping")
			return
		case <-ticker.C:
			s.syncStale(ctx)
		}
	}
}

func (s *Syncer) syncStale(ctx context.Context) {
	for _, src := range s.sources {
		last, err := s.repository.LastUpdated(src.Network)
		if err == nil && time.Since(last) < s.syncInterval {
			s.logger.Debug("ids fresh", "network", src.Network, "updated", last)
			continue
		}
		if _, err := s.Sync(ctx, src); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("sync failed", "network", src.Network, "err", err)
		}
	}
}

// Sync downloads and imports one source, then drops ids the list no
// longer carries. It returns the number of users imported.
func (s *Syncer) Sync(ctx context.Context, src Source) (int, error) {
	start := time.Now()
	s.logger.Info("sync starting", "network", src.Network, "url", src.URL)

	var body io.ReadCloser
	var err error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		body, err = s.download(ctx, src.URL)
		if err == nil {
			break
		}
		s.logger.Warn("download failed", "attempt", attempt, "of", MaxRetries, "err", err)
		if attempt < MaxRetries {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to download after %d attempts: %w", MaxRetries, err)
	}
	defer body.Close()

	users, err := ParseCSV(body, src.Network)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", src.URL, err)
	}
	if len(users) == 0 {
		return 0, errors.New("no valid users found in CSV")
	}

	n, err := s.repository.UpsertBatch(users)
	if err != nil {
		return n, fmt.Errorf("failed to import users: %w", err)
	}
	removed, err := s.repository.DeleteOlderThan(src.Network, start)
	if err != nil {
		return n, fmt.Errorf("failed to prune users: %w", err)
	}

	s.logger.Info("sync completed", "network", src.Network, "users", n, "removed", removed, "took", time.Since(start).Round(time.Millisecond))
	if s.OnSync != nil {
		s.OnSync(src.Network)
	}
	return n, nil
}

func (s *Syncer) download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "dvgateway/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %s", resp.Status)
	}
	return resp.Body, nil
}

// ParseCSV reads a radioid.net list:
//
//	RADIO_ID,CALLSIGN,FIRST_NAME,LAST_NAME,CITY,STATE,COUNTRY
//
// The header and malformed rows are skipped.
func ParseCSV(r io.Reader, network string) ([]database.RadioUser, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var users []database.RadioUser
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if user, ok := parseRecord(record, network); ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func parseRecord(record []string, network string) (database.RadioUser, bool) {
	if len(record) < 2 {
		return database.RadioUser{}, false
	}
	bits := 32
	if network == database.NETWORK_NXDN {
		bits = 16
	}
	id, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, bits)
	if err != nil || id == 0 {
		return database.RadioUser{}, false
	}

	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	user := database.RadioUser{
		Network:   network,
		RadioID:   uint32(id),
		Callsign:  field(1),
		FirstName: field(2),
		LastName:  field(3),
		City:      field(4),
		State:     field(5),
		Country:   field(6),
	}
	user.SanitizeFields()
	return user, user.IsValid()
}
