package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Legendarykuga/archVault/internal/cli/output"
	"github.com/Legendarykuga/archVault/internal/config"
	"github.com/Legendarykuga/archVault/internal/core/service"
	"github.com/Legendarykuga/archVault/internal/infra/confloader"
	"github.com/Legendarykuga/archVault/internal/storage"
	"github.com/Legendarykuga/archVault/internal/telemetry/logger"
	"github.com/Legendarykuga/archVault/internal/telemetry/metric"
	"github.com/Legendarykuga/archVault/pkg/crypto/adaptive"
)

// DefaultConfigFile is read from the working directory when --config is
// not given. Its absence is not an error.
const DefaultConfigFile = "archvault.yaml"

// Test hooks.
var (
	timeNow   = time.Now
	kdfParams = adaptive.KDFParams{}
)

// Runtime is the state shared by one invocation's command.
type Runtime struct {
	Config  *config.Config
	Loader  *confloader.Loader
	Logger  logger.Logger
	Metrics *metric.Registry

	Out    io.Writer
	Err    io.Writer
	Format output.Format
	Wide   bool

	// ctx carries the logger and the invocation's operation ID.
	ctx context.Context
}

func loadRuntime(c *cli.Context) (*Runtime, error) {
	opts := []confloader.Option{confloader.WithConfigFile(c.String("config"))}
	if !c.IsSet("config") {
		opts = []confloader.Option{confloader.WithConfigFile(DefaultConfigFile), confloader.WithOptionalFile()}
	}
	loader := confloader.NewLoader(opts...)

	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("apply flags: %w", err)
		}
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	format, err := output.ParseFormat(cfg.CLI.Output)
	if err != nil {
		return nil, err
	}

	ctx := logger.NewOp(logger.WithLogger(c.Context, log))
	logger.L(ctx).Debug("configuration loaded",
		"file", loader.FilePath(),
		"data_dir", cfg.Storage.DataDir,
		"backend", cfg.Storage.Backend,
		"persist_mode", cfg.Storage.PersistMode,
		"encrypted", cfg.Security.EncryptionKey != "",
	)

	return &Runtime{
		Config:  cfg,
		Loader:  loader,
		Logger:  log,
		Metrics: metric.NewRegistry(),
		Out:     c.App.Writer,
		Err:     c.App.ErrWriter,
		Format:  format,
		Wide:    c.Bool("wide"),
		ctx:     ctx,
	}, nil
}

// Context returns the invocation context.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// EngineConfig translates the loaded configuration into storage settings.
func (rt *Runtime) EngineConfig() (storage.Config, error) {
	cfg := rt.Config
	sc := storage.DefaultConfig(cfg.Storage.DataDir)
	sc.Backend = storage.BackendType(cfg.Storage.Backend)
	sc.PersistMode = storage.PersistMode(cfg.Storage.PersistMode)
	sc.SnapshotInterval = cfg.Storage.SnapshotInterval
	sc.RetentionCount = cfg.Storage.RetentionCount
	sc.RetentionDays = cfg.Storage.RetentionDays
	sc.AllowFallback = cfg.Storage.AllowFallback
	sc.BadgerSyncWrites = cfg.Storage.BadgerSyncWrites

	alg, err := adaptive.ParseAlgorithm(cfg.Security.Algorithm)
	if err != nil {
		return sc, err
	}
	sc.Algorithm = alg
	if cfg.Security.EncryptionKey != "" {
		kr, err := adaptive.NewKeyring(cfg.Security.EncryptionKey, kdfParams)
		if err != nil {
			return sc, err
		}
		sc.Keyring = kr
	}

	sc.LedgerOptions = []service.Option{service.WithClock(timeNow)}
	sc.Recorder = rt.Metrics
	sc.Observer = rt.Metrics
	sc.Registerer = rt.Metrics.Registerer()
	sc.Logger = logger.L(rt.ctx).Slog()
	return sc, nil
}

// OpenEngine loads the persisted ledger.
func (rt *Runtime) OpenEngine(ctx context.Context) (*storage.Engine, error) {
	sc, err := rt.EngineConfig()
	if err != nil {
		return nil, err
	}
	eng, err := storage.Open(ctx, sc)
	if err != nil {
		return nil, err
	}
	if err := rt.Metrics.Registerer().Register(metric.NewCollector(eng.Ledger())); err != nil {
		logger.L(ctx).Debug("ledger collector not registered", "error", err)
	}
	return eng, nil
}

// WithEngine opens the engine, runs fn and closes the engine. A close
// failure is reported when fn itself succeeded.
func (rt *Runtime) WithEngine(fn func(ctx context.Context, eng *storage.Engine) error) (err error) {
	eng, err := rt.OpenEngine(rt.ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(rt.ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt.ctx, eng)
}

// Render writes data in the configured output format.
func (rt *Runtime) Render(data any) error {
	return output.NewFormatter(rt.Format, rt.Wide).Format(rt.Out, data)
}
