package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/dbehnke/dvgateway/internal/config"
	"github.com/dbehnke/dvgateway/internal/database"
	"github.com/dbehnke/dvgateway/internal/lookup"
	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
	"github.com/dbehnke/dvgateway/internal/radioid"
	"github.com/dbehnke/dvgateway/internal/session"
)

const VERSION = "1.0.0"

var (
	HEADER1 = "This software is for use on amateur radio networks only,"
	HEADER2 = "it is to be used for educational purposes only. Its use on"
	HEADER3 = "commercial networks is strictly prohibited."
)

func getDefaultConfig() string {
	if v := os.Getenv("DVGATEWAY_CONFIG"); v != "" {
		return v
	}
	return "dvgateway.ini"
}

func main() {
	fs := pflag.NewFlagSet("dvgateway", pflag.ExitOnError)
	configFile := fs.StringP("config", "c", getDefaultConfig(), "configuration file (.ini, .yaml or .yml)")
	fs.StringP("backend", "b", "", "backend, e.g. REF, DCS, XRF, DMR, YSF, FCS, NXDN, P25, M17")
	fs.String("host", "", "server host")
	fs.Int("port", 0, "server UDP port (0 selects the backend default)")
	fs.String("callsign", "", "station callsign")
	fs.Bool("debug", false, "debug logging")
	version := fs.BoolP("version", "v", false, "show version information")
	fs.Parse(os.Args[1:])

	if *version {
		fmt.Printf("dvgateway v%s\n%s\n%s\n%s\n", VERSION, HEADER1, HEADER2, HEADER3)
		return
	}
	if fs.NArg() > 0 {
		*configFile = fs.Arg(0)
	}

	if err := run(*configFile, fs); err != nil {
		fmt.Fprintf(os.Stderr, "dvgateway: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, fs *pflag.FlagSet) error {
	cfg := config.NewConfig(configFile)
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return err
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	logger, logFile, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log.SetDefault(logger)
	logger.Info("starting", "version", VERSION, "config", configFile, "backend", sc.Kind, "host", sc.Host)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := newGateway(ctx, cfg, sc, logger)
	if err != nil {
		return err
	}
	defer g.close()

	err = g.run(ctx)
	logger.Info("stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// gateway owns everything around the session: the database, id lookups,
// the radioid syncer and the modem.
type gateway struct {
	logger  *log.Logger
	session *session.Session
	db      *database.DB
	syncer  *radioid.Syncer
	files   []*lookup.FileLookup
	port    *modem.Port

	wg sync.WaitGroup
}

func newGateway(ctx context.Context, cfg *config.Config, sc session.Config, logger *log.Logger) (*gateway, error) {
	g := &gateway{logger: logger}
	opts := session.Options{Logger: logger}

	if cfg.GetDatabaseEnabled() {
		db, err := database.NewDB(database.Config{Path: cfg.GetDatabasePath(), Debug: cfg.GetDatabaseDebug()}, logger.With("component", "db"))
		if err != nil {
			return nil, err
		}
		g.db = db
		if cfg.GetDatabaseCallLog() {
			opts.Calls = db.Calls()
		}
	}

	dir := g.directory(ctx, cfg, sc.Kind)
	if len(dir) > 0 {
		opts.Directory = dir
	}

	if cfg.GetModemEnabled() {
		port, err := modem.Open(cfg.GetModemPort(), int(cfg.GetModemSpeed()), logger)
		if err != nil {
			g.close()
			return nil, err
		}
		if err := port.SetMode(modemMode(sc.Kind)); err != nil {
			port.Close()
			g.close()
			return nil, err
		}
		g.port = port
		opts.Modem = port
	}

	s, err := session.New(sc, opts)
	if err != nil {
		g.close()
		return nil, err
	}
	g.session = s
	return g, nil
}

// directory builds the id lookup for the backend's network: the synced
// database first, then the configured id file.
func (g *gateway) directory(ctx context.Context, cfg *config.Config, kind protocol.Kind) lookup.Chain {
	network := database.NETWORK_DMR
	file, hours := cfg.GetDMRIdLookupFile(), cfg.GetDMRIdLookupTime()
	if kind == protocol.KIND_NXDN {
		network = database.NETWORK_NXDN
		file, hours = cfg.GetNXDNIdLookupFile(), cfg.GetNXDNIdLookupTime()
	}

	var chain lookup.Chain
	if g.db != nil {
		users := g.db.Users()
		dbl := lookup.NewDatabaseLookup(users, network, g.logger)
		chain = append(chain, dbl)

		g.syncer = radioid.NewSyncer(users, g.logger, radioid.SyncerConfig{
			SyncInterval: time.Duration(cfg.GetDatabaseSyncHours()) * time.Hour,
		})
		g.syncer.OnSync = func(synced string) {
			if synced == network {
				dbl.Flush()
			}
		}
	}
	if file != "" {
		f := lookup.NewFileLookup(file, hours, g.logger)
		if err := f.Start(ctx); err != nil {
			g.logger.Warn("id file not loaded", "file", file, "err", err)
		} else {
			g.logger.Info("id file loaded", "file", file, "entries", f.EntryCount())
			g.files = append(g.files, f)
			chain = append(chain, f)
		}
	}
	return chain
}

func modemMode(kind protocol.Kind) byte {
	switch kind {
	case protocol.KIND_REF, protocol.KIND_DCS, protocol.KIND_XRF:
		return modem.MODE_DSTAR
	case protocol.KIND_DMR:
		return modem.MODE_DMR
	case protocol.KIND_YSF, protocol.KIND_FCS:
		return modem.MODE_YSF
	case protocol.KIND_P25:
		return modem.MODE_P25
	case protocol.KIND_NXDN:
		return modem.MODE_NXDN
	case protocol.KIND_M17:
		return modem.MODE_M17
	}
	return modem.MODE_IDLE
}

func (g *gateway) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if g.syncer != nil {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.syncer.Run(ctx)
		}()
	}
	if g.port != nil {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			err := g.port.Run(ctx, func(frame []byte) {
				if !g.session.Modem(frame) {
					g.logger.Debug("modem frame dropped")
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Error("modem stopped", "err", err)
			}
		}()
	}

	err := g.session.Run(ctx)
	cancel()
	g.wg.Wait()
	return err
}

func (g *gateway) close() {
	for _, f := range g.files {
		f.Stop()
	}
	if g.port != nil {
		g.port.Close()
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			g.logger.Warn("database close", "err", err)
		}
	}
}
