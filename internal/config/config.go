package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dbehnke/dvgateway/internal/protocol"
	"github.com/dbehnke/dvgateway/internal/protocol/m17"
	"github.com/dbehnke/dvgateway/internal/session"
)

// Config represents the gateway configuration
type Config struct {
	filename string

	// General section
	callsign string
	backend  string
	daemon   bool

	// Info section
	rxFrequency uint32
	txFrequency uint32
	latitude    float64
	longitude   float64
	location    string
	description string
	url         string

	// Network section
	host      string
	port      uint32
	localPort uint32
	reflector string
	module    byte
	password  string
	options   string
	text      string
	debug     bool

	// DMR section
	dmrId        uint32
	dmrESSID     uint8
	dmrTalkgroup uint32
	dmrPrivate   bool
	dmrSlot      uint8
	dmrColorCode uint8

	// NXDN section
	nxdnId        uint16
	nxdnTalkgroup uint32

	// M17 section
	m17Mode m17.CodecMode
	m17CAN  uint8

	// Modem section
	modemEnabled bool
	modemPort    string
	modemSpeed   uint32

	// DMR Id Lookup / NXDN Id Lookup sections
	dmrIdLookupFile  string
	dmrIdLookupTime  uint32
	nxdnIdLookupFile string
	nxdnIdLookupTime uint32

	// Database section
	databaseEnabled   bool
	databasePath      string
	databaseSyncHours uint32
	databaseCallLog   bool
	databaseDebug     bool

	// Log section
	logDisplayLevel uint32
	logFileLevel    uint32
	logFilePath     string
	logFileRoot     string
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename:     filename,
		module:       'C',
		dmrSlot:      2,
		dmrColorCode: 1,
		modemSpeed:   115200,

		dmrIdLookupTime:  24,
		nxdnIdLookupTime: 24,

		databasePath:      "data/dvgateway.db",
		databaseSyncHours: 24,
		databaseCallLog:   true,

		logDisplayLevel: 3,
		logFilePath:     ".",
		logFileRoot:     "dvgateway",
	}
}

// Load loads configuration from the file, as YAML when the name ends in
// .yaml or .yml and as INI otherwise.
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(c.filename)) {
	case ".yaml", ".yml":
		err = c.parseYAML(file)
	default:
		err = c.parseINI(bufio.NewScanner(file))
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", c.filename, err)
	}
	return nil
}

// LoadFromString loads INI configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parseINI(bufio.NewScanner(strings.NewReader(data)))
}

// LoadYAMLFromString loads YAML configuration from a string.
func (c *Config) LoadYAMLFromString(data string) error {
	return c.parseYAML(strings.NewReader(data))
}

func (c *Config) parseINI(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if len(line) == 0 || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		c.set(currentSection, strings.TrimSpace(key), strings.TrimSpace(value))
	}

	return scanner.Err()
}

// parseYAML reads the same sections and keys as the INI form, one mapping
// per section:
//
//	General:
//	  Callsign: N0CALL
//	  Backend: M17
func (c *Config) parseYAML(r io.Reader) error {
	var sections map[string]map[string]any
	if err := yaml.NewDecoder(r).Decode(&sections); err != nil && err != io.EOF {
		return fmt.Errorf("yaml: %w", err)
	}
	for section, keys := range sections {
		for key, value := range keys {
			if value == nil {
				continue
			}
			c.set(section, key, fmt.Sprint(value))
		}
	}
	return nil
}

func (c *Config) set(section, key, value string) {
	switch section {
	case "General":
		c.parseGeneralSection(key, value)
	case "Info":
		c.parseInfoSection(key, value)
	case "Network":
		c.parseNetworkSection(key, value)
	case "DMR":
		c.parseDMRSection(key, value)
	case "NXDN":
		c.parseNXDNSection(key, value)
	case "M17":
		c.parseM17Section(key, value)
	case "Modem":
		c.parseModemSection(key, value)
	case "DMR Id Lookup":
		c.parseIdLookupSection(key, value, &c.dmrIdLookupFile, &c.dmrIdLookupTime)
	case "NXDN Id Lookup":
		c.parseIdLookupSection(key, value, &c.nxdnIdLookupFile, &c.nxdnIdLookupTime)
	case "Database":
		c.parseDatabaseSection(key, value)
	case "Log":
		c.parseLogSection(key, value)
	}
}

func (c *Config) parseGeneralSection(key, value string) {
	switch key {
	case "Callsign":
		c.callsign = strings.ToUpper(value)
	case "Backend":
		c.backend = strings.ToUpper(value)
	case "Daemon":
		c.daemon = c.parseBool(value)
	}
}

func (c *Config) parseInfoSection(key, value string) {
	switch key {
	case "RXFrequency":
		parseUint32(value, &c.rxFrequency)
	case "TXFrequency":
		parseUint32(value, &c.txFrequency)
	case "Latitude":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.latitude = v
		}
	case "Longitude":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.longitude = v
		}
	case "Location":
		c.location = value
	case "Description":
		c.description = value
	case "URL":
		c.url = value
	}
}

func (c *Config) parseNetworkSection(key, value string) {
	switch key {
	case "Host", "Address":
		c.host = value
	case "Port":
		parseUint32(value, &c.port)
	case "LocalPort", "Local":
		parseUint32(value, &c.localPort)
	case "Reflector":
		c.reflector = strings.ToUpper(value)
	case "Module":
		if value != "" {
			c.module = strings.ToUpper(value)[0]
		}
	case "Password":
		c.password = value
	case "Options":
		c.options = value
	case "Text":
		c.text = value
	case "Debug":
		c.debug = c.parseBool(value)
	}
}

func (c *Config) parseDMRSection(key, value string) {
	switch key {
	case "Id":
		parseUint32(value, &c.dmrId)
	case "ESSID":
		parseUint8(value, &c.dmrESSID)
	case "Talkgroup", "StartupDstId":
		parseUint32(value, &c.dmrTalkgroup)
	case "Private", "StartupPC":
		c.dmrPrivate = c.parseBool(value)
	case "Slot":
		parseUint8(value, &c.dmrSlot)
	case "ColorCode":
		parseUint8(value, &c.dmrColorCode)
	}
}

func (c *Config) parseNXDNSection(key, value string) {
	switch key {
	case "Id":
		if v, err := strconv.ParseUint(value, 10, 16); err == nil {
			c.nxdnId = uint16(v)
		}
	case "Talkgroup":
		parseUint32(value, &c.nxdnTalkgroup)
	}
}

func (c *Config) parseM17Section(key, value string) {
	switch key {
	case "Mode":
		if strings.TrimSpace(value) == "1600" {
			c.m17Mode = m17.MODE_1600
		} else {
			c.m17Mode = m17.MODE_3200
		}
	case "CAN":
		parseUint8(value, &c.m17CAN)
	}
}

func (c *Config) parseModemSection(key, value string) {
	switch key {
	case "Enable", "Enabled":
		c.modemEnabled = c.parseBool(value)
	case "Port":
		c.modemPort = value
	case "Speed":
		parseUint32(value, &c.modemSpeed)
	}
}

func (c *Config) parseIdLookupSection(key, value string, file *string, hours *uint32) {
	switch key {
	case "File":
		*file = value
	case "Time":
		parseUint32(value, hours)
	}
}

func (c *Config) parseDatabaseSection(key, value string) {
	switch key {
	case "Enabled":
		c.databaseEnabled = c.parseBool(value)
	case "Path":
		c.databasePath = value
	case "SyncHours":
		parseUint32(value, &c.databaseSyncHours)
	case "CallLog":
		c.databaseCallLog = c.parseBool(value)
	case "Debug":
		c.databaseDebug = c.parseBool(value)
	}
}

func (c *Config) parseLogSection(key, value string) {
	switch key {
	case "DisplayLevel":
		parseUint32(value, &c.logDisplayLevel)
	case "FileLevel":
		parseUint32(value, &c.logFileLevel)
	case "FilePath":
		c.logFilePath = value
	case "FileRoot":
		c.logFileRoot = value
	}
}

func (c *Config) parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseUint32(value string, dst *uint32) {
	if v, err := strconv.ParseUint(value, 10, 32); err == nil {
		*dst = uint32(v)
	}
}

func parseUint8(value string, dst *uint8) {
	if v, err := strconv.ParseUint(value, 10, 8); err == nil {
		*dst = uint8(v)
	}
}

// ApplyFlags overrides file settings with the command line flags that were
// set explicitly. Unknown flag names are ignored so callers may register
// only the ones they offer.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	if fs.Changed("backend") {
		v, err := fs.GetString("backend")
		if err != nil {
			return err
		}
		c.backend = strings.ToUpper(v)
	}
	if fs.Changed("host") {
		v, err := fs.GetString("host")
		if err != nil {
			return err
		}
		c.host = v
	}
	if fs.Changed("port") {
		v, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		if v < 0 || v > 0xFFFF {
			return fmt.Errorf("--port %d out of range", v)
		}
		c.port = uint32(v)
	}
	if fs.Changed("callsign") {
		v, err := fs.GetString("callsign")
		if err != nil {
			return err
		}
		c.callsign = strings.ToUpper(v)
	}
	if fs.Changed("debug") {
		v, err := fs.GetBool("debug")
		if err != nil {
			return err
		}
		c.debug = v
	}
	return nil
}

// Station builds the station identity shared by every backend.
func (c *Config) Station() protocol.Station {
	reflector := c.reflector
	if reflector == "" {
		reflector = c.backend
	}
	talkgroup := c.dmrTalkgroup
	if c.nxdnTalkgroup != 0 {
		if k, _ := protocol.ParseKind(c.backend); k == protocol.KIND_NXDN {
			talkgroup = c.nxdnTalkgroup
		}
	}
	return protocol.Station{
		Callsign:    c.callsign,
		Module:      c.module,
		Reflector:   reflector,
		DMRID:       c.dmrId,
		NXDNID:      c.nxdnId,
		ESSID:       c.dmrESSID,
		Talkgroup:   talkgroup,
		Private:     c.dmrPrivate,
		Slot:        c.dmrSlot,
		ColorCode:   c.dmrColorCode,
		CAN:         c.m17CAN,
		Password:    c.password,
		Options:     c.options,
		Text:        c.text,
		RxFreq:      c.rxFrequency,
		TxFreq:      c.txFrequency,
		Latitude:    c.latitude,
		Longitude:   c.longitude,
		Location:    c.location,
		Description: c.description,
		URL:         c.url,
	}
}

// SessionConfig returns the session settings for the configured backend.
func (c *Config) SessionConfig() (session.Config, error) {
	kind, err := protocol.ParseKind(c.backend)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: %w", err)
	}
	if c.callsign == "" {
		return session.Config{}, fmt.Errorf("config: no callsign for %s", kind)
	}
	if c.host == "" {
		return session.Config{}, fmt.Errorf("config: no host for %s", kind)
	}
	if kind == protocol.KIND_DMR && c.dmrId == 0 {
		return session.Config{}, fmt.Errorf("config: DMR backend needs a DMR Id")
	}
	return session.Config{
		Kind:      kind,
		Host:      c.host,
		Port:      int(c.port),
		LocalPort: int(c.localPort),
		Station:   c.Station(),
		M17Mode:   c.m17Mode,
	}, nil
}

// Getters

func (c *Config) GetCallsign() string    { return c.callsign }
func (c *Config) GetBackend() string     { return c.backend }
func (c *Config) GetDaemon() bool        { return c.daemon }
func (c *Config) GetRxFrequency() uint32 { return c.rxFrequency }
func (c *Config) GetTxFrequency() uint32 { return c.txFrequency }
func (c *Config) GetLatitude() float64   { return c.latitude }
func (c *Config) GetLongitude() float64  { return c.longitude }
func (c *Config) GetLocation() string    { return c.location }
func (c *Config) GetDescription() string { return c.description }
func (c *Config) GetURL() string         { return c.url }

func (c *Config) GetHost() string      { return c.host }
func (c *Config) GetPort() uint32      { return c.port }
func (c *Config) GetLocalPort() uint32 { return c.localPort }
func (c *Config) GetReflector() string { return c.reflector }
func (c *Config) GetModule() byte      { return c.module }
func (c *Config) GetPassword() string  { return c.password }
func (c *Config) GetOptions() string   { return c.options }
func (c *Config) GetText() string      { return c.text }
func (c *Config) GetDebug() bool       { return c.debug }

func (c *Config) GetDMRId() uint32        { return c.dmrId }
func (c *Config) GetDMRESSID() uint8      { return c.dmrESSID }
func (c *Config) GetDMRTalkgroup() uint32 { return c.dmrTalkgroup }
func (c *Config) GetDMRPrivate() bool     { return c.dmrPrivate }
func (c *Config) GetDMRSlot() uint8       { return c.dmrSlot }
func (c *Config) GetDMRColorCode() uint8  { return c.dmrColorCode }

func (c *Config) GetNXDNId() uint16        { return c.nxdnId }
func (c *Config) GetNXDNTalkgroup() uint32 { return c.nxdnTalkgroup }

func (c *Config) GetM17Mode() m17.CodecMode { return c.m17Mode }
func (c *Config) GetM17CAN() uint8          { return c.m17CAN }

func (c *Config) GetModemEnabled() bool { return c.modemEnabled }
func (c *Config) GetModemPort() string  { return c.modemPort }
func (c *Config) GetModemSpeed() uint32 { return c.modemSpeed }

func (c *Config) GetDMRIdLookupFile() string  { return c.dmrIdLookupFile }
func (c *Config) GetDMRIdLookupTime() uint32  { return c.dmrIdLookupTime }
func (c *Config) GetNXDNIdLookupFile() string { return c.nxdnIdLookupFile }
func (c *Config) GetNXDNIdLookupTime() uint32 { return c.nxdnIdLookupTime }

func (c *Config) GetDatabaseEnabled() bool     { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string      { return c.databasePath }
func (c *Config) GetDatabaseSyncHours() uint32 { return c.databaseSyncHours }
func (c *Config) GetDatabaseCallLog() bool     { return c.databaseCallLog }
func (c *Config) GetDatabaseDebug() bool       { return c.databaseDebug }

func (c *Config) GetLogDisplayLevel() uint32 { return c.logDisplayLevel }
func (c *Config) GetLogFileLevel() uint32    { return c.logFileLevel }
func (c *Config) GetLogFilePath() string     { return c.logFilePath }
func (c *Config) GetLogFileRoot() string     { return c.logFileRoot }
