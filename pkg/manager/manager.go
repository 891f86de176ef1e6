package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/adcm/pkg/catalog"
	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/entity"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/events"
	"github.com/cuemby/adcm/pkg/health"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/reconciler"
	"github.com/cuemby/adcm/pkg/runner"
	"github.com/cuemby/adcm/pkg/security"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/cuemby/adcm/pkg/upgrade"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	collectInterval  = 15 * time.Second
	serviceMapWindow = time.Second
)

// Manager owns the store of one ADCM installation and every engine
// operating on it
type Manager struct {
	cfg    *settings.Config
	layout settings.Layout
	store  *storage.Store
	vault  *security.Vault
	token  string

	Configs  *config.Engine
	Concerns *concern.Engine
	Topo     *topology.Engine
	Entities *entity.Engine
	Upgrades *upgrade.Engine
	Planner  *planner.Planner
	Runner   *runner.TaskRunner
	Executor *runner.Executor

	broker     *events.Broker
	client     *events.StatusClient
	collector  *metrics.Collector
	reconciler *reconciler.Reconciler
	monitor    *health.Monitor
	logger     zerolog.Logger

	served    bool
	closeOnce sync.Once
}

// New prepares the on-disk layout, loads the vault password and secrets,
// opens the store and wires the engines. Nothing runs in the background
// until Serve.
func New(cfg *settings.Config) (*Manager, error) {
	layout := cfg.Layout()
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	password, err := security.LoadVaultPassword(layout.VaultPasswordFile())
	if err != nil {
		return nil, err
	}
	vault, err := security.NewVault(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	secrets, err := security.LoadSecrets(layout.SecretsFile())
	if err != nil {
		return nil, err
	}
	token := cfg.Status.Token
	if token == "" {
		token = secrets.Token
	}

	store, err := storage.Open(layout.VarDir())
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		layout: layout,
		store:  store,
		vault:  vault,
		token:  token,
		logger: log.WithComponent("manager"),
	}
	m.Configs = config.NewEngine(vault, layout)
	m.Concerns = concern.NewEngine()
	m.Topo = topology.NewEngine(m.Configs, m.Concerns)
	m.Entities = entity.NewEngine(m.Configs, m.Concerns, m.Topo)
	m.Upgrades = upgrade.NewEngine(m.Configs, m.Concerns, m.Entities)
	m.Planner = planner.New(m.Configs, m.Concerns, m.Topo, planner.Options{
		Layout:      layout,
		StatusToken: token,
		Forks:       cfg.Runner.Forks,
	})
	m.Runner = runner.NewTaskRunner(store, m.Planner, m.Concerns, m.Topo, runner.Options{
		Command:     cfg.Runner.Command,
		GracePeriod: cfg.Runner.GracePeriod,
	})
	m.Executor = runner.NewExecutor(store, m.Runner, cfg.Runner.CancelWait)

	m.broker = events.NewBroker()
	m.client = events.NewStatusClient(cfg.Status.URL, token, cfg.Status.Timeout)
	m.collector = metrics.NewCollector(store, collectInterval)
	m.reconciler = reconciler.NewReconciler(store, m.Runner, m.Executor, cfg.ReconcileInterval)

	m.monitor = health.NewMonitor(health.DefaultConfig(), metrics.UpdateComponent)
	m.monitor.Add("store", &health.StoreChecker{Store: store})
	if cfg.Status.URL != "" {
		m.monitor.Add("status_server", health.NewStatusServerChecker(cfg.Status.URL, token, time.Second))
	}
	m.monitor.Add("ansible", health.NewToolChecker(cfg.Runner.AnsiblePlaybook))

	if err := m.initADCM(); err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

// Store returns the store of the installation
func (m *Manager) Store() *storage.Store {
	return m.store
}

// Broker returns the in-process event broker
func (m *Manager) Broker() *events.Broker {
	return m.broker
}

// Layout returns the on-disk layout
func (m *Manager) Layout() settings.Layout {
	return m.layout
}

// initADCM creates the adcm root object once an adcm bundle is loaded
func (m *Manager) initADCM() error {
	err := m.store.Update(func(tx *storage.Tx) error {
		_, err := m.Entities.InitADCM(tx)
		return err
	})
	if errcode.Is(err, errcode.PrototypeNotFound) {
		return nil
	}
	return err
}

// Serve runs the background loops until ctx is cancelled, then shuts down
func (m *Manager) Serve(ctx context.Context) error {
	m.served = true
	m.broker.Attach(m.store)
	m.broker.Start()
	m.collector.Start()
	m.reconciler.Start()
	metrics.RegisterComponent("store", true, m.store.Path())
	metrics.RegisterComponent("executor", true, "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return events.NewEmitter(m.store, m.client, m.cfg.Status.MaxRetries).Run(gctx)
	})
	metrics.RegisterComponent("events", true, "")
	if m.cfg.Status.URL != "" {
		g.Go(func() error {
			return events.NewServiceMapPusher(m.store, m.client, m.broker, serviceMapWindow).Run(gctx)
		})
	}
	g.Go(func() error { return m.monitor.Run(gctx) })

	m.logger.Info().
		Str("base_dir", m.cfg.BaseDir).
		Str("status_url", m.cfg.Status.URL).
		Dur("reconcile_interval", m.cfg.ReconcileInterval).
		Msg("manager started")

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.Runner.GracePeriod+5*time.Second)
	defer cancel()
	return errors.Join(err, m.Shutdown(shutdownCtx))
}

// Shutdown aborts running tasks and closes the store. It is safe to call
// more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		metrics.UpdateComponent("executor", false, "shutting down")
		if e := m.Executor.Shutdown(ctx); e != nil {
			err = e
			m.logger.Error().Err(e).Msg("tasks did not finish")
		}
		if m.served {
			m.reconciler.Stop()
			m.collector.Stop()
			m.broker.Stop()
		}
		if e := m.store.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("failed to close store: %w", e))
		}
		m.logger.Info().Msg("manager stopped")
	})
	return err
}

// Close closes the store of a manager that was never served
func (m *Manager) Close() error {
	return m.Shutdown(context.Background())
}

// LoadBundle unpacks a bundle directory into data/bundle/<hash> and stores
// its records
func (m *Manager) LoadBundle(dir string) (*types.Bundle, error) {
	def, err := catalog.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	stack := m.layout.StackDir(def.Hash)
	_, statErr := os.Stat(stack)
	fresh := errors.Is(statErr, os.ErrNotExist)
	if err := catalog.Unpack(dir, stack); err != nil {
		return nil, err
	}

	var bundle *types.Bundle
	err = m.store.Update(func(tx *storage.Tx) error {
		var err error
		bundle, err = catalog.Load(tx, def, m.cfg.ADCMVersion)
		return err
	})
	if err != nil {
		if fresh {
			_ = os.RemoveAll(stack)
		}
		return nil, err
	}
	if err := m.initADCM(); err != nil {
		return nil, err
	}
	m.logger.Info().
		Int64("bundle_id", bundle.ID).
		Str("name", bundle.Name).
		Str("version", bundle.Version).
		Str("edition", bundle.Edition).
		Msg("bundle loaded")
	return bundle, nil
}

// DeleteBundle removes an unused bundle and its unpacked directory
func (m *Manager) DeleteBundle(id int64) error {
	var hash string
	err := m.store.Update(func(tx *storage.Tx) error {
		b, err := storage.Bundles.Get(tx, id)
		if err != nil {
			return err
		}
		hash = b.Hash
		return catalog.Delete(tx, id)
	})
	if err != nil {
		return err
	}
	if err := os.RemoveAll(m.layout.StackDir(hash)); err != nil {
		return fmt.Errorf("failed to remove bundle directory: %w", err)
	}
	m.logger.Info().Int64("bundle_id", id).Msg("bundle deleted")
	return nil
}

// RunAction prepares a task in one write transaction and starts it in this
// process. build resolves the request inside that transaction.
func (m *Manager) RunAction(build func(tx *storage.Tx) (planner.Request, error)) (*types.TaskLog, error) {
	var task *types.TaskLog
	err := m.store.Update(func(tx *storage.Tx) error {
		req, err := build(tx)
		if err != nil {
			return err
		}
		p, err := m.Planner.Prepare(tx, req)
		if err != nil {
			return err
		}
		task = p.Task
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := m.Executor.Start(task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

// Upgrade applies upgradeID to a cluster or provider
func (m *Manager) Upgrade(ref types.ObjectRef, upgradeID int64) (*types.Object, error) {
	var out *types.Object
	err := m.store.Update(func(tx *storage.Tx) error {
		obj, err := storage.GetObject(tx, ref)
		if err != nil {
			return err
		}
		out, err = m.Upgrades.Upgrade(tx, obj, upgradeID)
		return err
	})
	return out, err
}
