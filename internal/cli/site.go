package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/audit"
	"github.com/jvs-project/motion/internal/cache"
	"github.com/jvs-project/motion/internal/inventory"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/internal/lock"
	"github.com/jvs-project/motion/internal/motion"
	"github.com/jvs-project/motion/internal/store"
	"github.com/jvs-project/motion/internal/volume"
	"github.com/jvs-project/motion/pkg/config"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/metrics"
	"github.com/jvs-project/motion/pkg/model"
)

// site is an inventory loaded into a record store with an orchestrator
// built on top of it.
type site struct {
	cfg     *config.Config
	records *store.Store
	summary *inventory.Summary
	orch    *motion.Orchestrator
	log     *logging.Logger
}

func (s *site) Close() error {
	return s.records.Close()
}

// loadConfig reads --config. A missing file yields the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format := logging.Format(cfg.Logging.Format)
	if format == "" {
		format = logging.FormatJSON
	}
	log := logging.New(level, format, os.Stderr)
	logging.SetGlobal(log)
	return log
}

func registry(cfg *config.Config) *metrics.Registry {
	if !cfg.Metrics.Enabled {
		return nil
	}
	if !metrics.Enabled() {
		metrics.Init(cfg.Metrics.Namespace)
	}
	return metrics.Default()
}

// openSite loads --config and --inventory and applies the inventory to the
// configured record store.
func openSite() (*site, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	doc, err := inventory.Load(inventoryPath)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	reg := registry(cfg)

	records, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	volumes := volume.NewService(records, lifecycle.New(records), log)
	relays := agent.NewZoneSelector()
	summary, err := inventory.NewLoader(records, volumes, relays, log).Apply(doc)
	if err != nil {
		records.Close()
		return nil, err
	}

	gw := agent.NewHTTPGateway(agent.HTTPConfig{
		Secret: cfg.Agent.Secret,
		Grace:  cfg.Agent.TimeoutGrace,
	}, records)

	deps := motion.Deps{
		Records:  records,
		Volumes:  volumes,
		Stager:   cache.NewManager(records, volumes, reg),
		Locks:    lock.NewManager(reg),
		Gateway:  agent.Instrument(gw, reg, log),
		Selector: relays,
		Config:   config.NewStatic(cfg),
		Metrics:  reg,
		Log:      log,
	}
	if cfg.Audit.Path != "" {
		deps.Auditor = audit.NewFileAppender(cfg.Audit.Path)
	}
	orch, err := motion.New(deps)
	if err != nil {
		records.Close()
		return nil, err
	}
	return &site{cfg: cfg, records: records, summary: summary, orch: orch, log: log}, nil
}

// object resolves a reference of the form kind/id, e.g. volume/3.
func (s *site) object(ref string) (*model.DataObject, error) {
	kind, idStr, ok := strings.Cut(ref, "/")
	if !ok {
		return nil, errclass.ErrPrecondition.WithMessagef("object reference %q is not kind/id", ref)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return nil, errclass.ErrPrecondition.WithMessagef("object reference %q has no valid id", ref)
	}
	switch model.Kind(kind) {
	case model.KindVolume, model.KindSnapshot, model.KindTemplate:
		return s.records.Object(model.Kind(kind), id)
	default:
		return nil, errclass.ErrPrecondition.WithMessagef("unknown object kind %q", kind)
	}
}

func (s *site) host(idStr string) (*model.Host, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, errclass.ErrPrecondition.WithMessagef("host id %q is not a number", idStr)
	}
	return s.records.Host(id)
}

// planEntry parses volume=store into a migration plan entry.
func (s *site) planEntry(arg string) (model.PlanEntry, error) {
	volStr, storeStr, ok := strings.Cut(arg, "=")
	if !ok {
		return model.PlanEntry{}, errclass.ErrPrecondition.WithMessagef("plan entry %q is not volume=store", arg)
	}
	volID, err := strconv.ParseInt(volStr, 10, 64)
	if err != nil {
		return model.PlanEntry{}, errclass.ErrPrecondition.WithMessagef("plan entry %q: bad volume id", arg)
	}
	storeID, err := strconv.ParseInt(storeStr, 10, 64)
	if err != nil {
		return model.PlanEntry{}, errclass.ErrPrecondition.WithMessagef("plan entry %q: bad store id", arg)
	}
	vol, err := s.records.Volume(volID)
	if err != nil {
		return model.PlanEntry{}, err
	}
	dest, err := s.records.DataStore(storeID)
	if err != nil {
		return model.PlanEntry{}, err
	}
	return model.PlanEntry{Volume: vol, Dest: dest}, nil
}

func fmtErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "motionctl: "+format+"\n", args...)
}
