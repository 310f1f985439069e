package lookup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// FileLookup serves ids from a text file and rereads it every reloadTime
// hours. Two layouts are understood, one entry per line:
//
//	3113 G4KLX              (DMRIds.dat: id, whitespace, callsign)
//	3113,G4KLX,Jonathan,... (radioid.net user.csv / NXDN.csv)
//
// Lines whose first field is not a number, such as a CSV header, are
// skipped.
type FileLookup struct {
	filename   string
	reloadTime uint32 // hours, 0 disables reloading
	logger     *log.Logger

	mu           sync.RWMutex
	idToCallsign map[uint32]string
	callsignToID map[string]uint32

	lastReload  time.Time
	reloadCount uint32
	errorCount  uint32

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileLookup creates a lookup for filename. Nothing is read until Read
// or Start.
func NewFileLookup(filename string, reloadTime uint32, logger *log.Logger) *FileLookup {
	if logger == nil {
		logger = log.Default()
	}
	return &FileLookup{
		filename:     filename,
		reloadTime:   reloadTime,
		logger:       logger.With("ids", filename),
		idToCallsign: make(map[uint32]string),
		callsignToID: make(map[string]uint32),
	}
}

// Read loads the file, replacing the current entries only on success.
func (f *FileLookup) Read() error {
	file, err := os.Open(f.filename)
	if err != nil {
		f.recordError()
		return fmt.Errorf("open id file: %w", err)
	}
	defer file.Close()

	ids, calls, err := parseIDs(file)
	if err != nil {
		f.recordError()
		return fmt.Errorf("read id file %s: %w", f.filename, err)
	}

	f.mu.Lock()
	f.idToCallsign = ids
	f.callsignToID = calls
	f.lastReload = time.Now()
	f.reloadCount++
	f.mu.Unlock()

	f.logger.Debug("loaded ids", "entries", len(ids))
	return nil
}

func parseIDs(r io.Reader) (map[uint32]string, map[string]uint32, error) {
	ids := make(map[uint32]string)
	calls := make(map[string]uint32)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		var fields []string
		if strings.Contains(line, ",") {
			fields = strings.Split(line, ",")
		} else {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}

		id, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil || id == 0 {
			continue
		}
		callsign := strings.ToUpper(strings.Trim(strings.TrimSpace(fields[1]), `"`))
		if callsign == "" || len(callsign) > 20 {
			continue
		}

		ids[uint32(id)] = callsign
		calls[callsign] = uint32(id)
	}
	return ids, calls, scanner.Err()
}

func (f *FileLookup) FindCS(id uint32) string {
	if id == ID_ALL {
		return "ALL"
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if cs, ok := f.idToCallsign[id]; ok {
		return cs
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (f *FileLookup) FindID(callsign string) uint32 {
	callsign = strings.ToUpper(strings.TrimSpace(callsign))
	if callsign == "" {
		return ID_UNKNOWN
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.callsignToID[callsign]
}

func (f *FileLookup) Exists(id uint32) bool {
	if id == ID_ALL {
		return true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.idToCallsign[id]
	return ok
}

func (f *FileLookup) EntryCount() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return uint32(len(f.idToCallsign))
}

// Stats returns the reload and error counters and the last reload time.
func (f *FileLookup) Stats() (reloads, errors uint32, last time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.reloadCount, f.errorCount, f.lastReload
}

// Start reads the file and, when reloadTime is set, rereads it in the
// background until ctx ends or Stop is called.
func (f *FileLookup) Start(ctx context.Context) error {
	if err := f.Read(); err != nil {
		return fmt.Errorf("initial id load failed: %w", err)
	}
	if f.reloadTime == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.reloadLoop(ctx, time.Duration(f.reloadTime)*time.Hour)
	return nil
}

// Stop ends background reloading and waits for it.
func (f *FileLookup) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// IsRunning reports whether background reloading is active.
func (f *FileLookup) IsRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.cancel != nil
}

func (f *FileLookup) reloadLoop(ctx context.Context, every time.Duration) {
	defer close(f.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Read(); err != nil {
				f.logger.Warn("id reload failed", "err", err)
			}
		}
	}
}

func (f *FileLookup) recordError() {
	f.mu.Lock()
	f.errorCount++
	f.mu.Unlock()
}
