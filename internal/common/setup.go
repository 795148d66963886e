package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"grove-ledger-go/internal/database"
	"grove-ledger-go/internal/formance"
	"grove-ledger-go/internal/harvest"
	"grove-ledger-go/internal/lending"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/oracle"
	"grove-ledger-go/internal/prime"
	"grove-ledger-go/internal/reserve"
	"grove-ledger-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	Ledger    store.TransferPort
	Oracle    store.PriceOracle
	Registry  *Registry

	cfg     *models.Config
	closers []func()
}

// InitializeLogger installs the global zap logger. With a log file configured,
// entries are also written to a rotating JSON file.
func InitializeLogger(cfg models.LogConfig) (*zap.Logger, func()) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
		if rotator != nil {
			_ = rotator.Close()
		}
	}

	return logger, cleanup
}

// InitializeServices opens the database, selects the ledger backend, builds
// the price oracle and loads the grove asset registry.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	services := &Services{DbService: dbService, cfg: cfg, closers: []func(){dbService.Close}}

	registry, err := LoadRegistry(cfg.Ledger.AssetsFile)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Registry = registry

	switch cfg.Ledger.Backend {
	case "formance":
		zap.L().Info("Using Formance ledger backend")
		fm, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to initialize formance backend: %w", err)
		}
		services.Ledger = fm
		services.closers = append(services.closers, fm.Close)
	default:
		zap.L().Info("Using SQLite subledger backend", zap.String("path", cfg.Database.Path))
		services.Ledger = dbService.Subledger()
	}

	if cfg.Oracle.URL != "" {
		zap.L().Info("Using HTTP price oracle", zap.String("url", cfg.Oracle.URL))
		services.Oracle = oracle.NewHTTPOracle(cfg.Oracle)
	} else {
		zap.L().Info("No price feed configured, using registry reference prices",
			zap.Int("priced_assets", len(registry.Prices)))
		services.Oracle = oracle.NewStaticOracle(registry.Prices)
	}

	return services, nil
}

// Reserve opens the revenue reserve of a grove asset.
func (s *Services) Reserve(ctx context.Context, assetId string) (*reserve.Reserve, error) {
	asset, err := s.Registry.Asset(assetId)
	if err != nil {
		return nil, err
	}
	return reserve.NewReserve(ctx, reserve.NewConfig(asset, s.cfg.Reserve, s.cfg.Ledger.TransferTimeout), s.DbService, s.Ledger)
}

// Workflow opens the harvest workflow of a grove asset.
func (s *Services) Workflow(ctx context.Context, assetId string) (*harvest.Workflow, error) {
	asset, err := s.Registry.Asset(assetId)
	if err != nil {
		return nil, err
	}
	rsv, err := s.Reserve(ctx, assetId)
	if err != nil {
		return nil, err
	}
	return harvest.NewWorkflow(harvest.NewWorkflowConfig(s.cfg.Harvest), s.DbService, s.DbService, s.Oracle, rsv, asset)
}

// Workflows opens the harvest workflow of every registered grove asset.
func (s *Services) Workflows(ctx context.Context) ([]*harvest.Workflow, error) {
	workflows := make([]*harvest.Workflow, 0, len(s.Registry.Assets))
	for _, a := range s.Registry.Assets {
		w, err := s.Workflow(ctx, a.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to open workflow for %s: %w", a.Id, err)
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

// Pool opens the lending pool of an asset.
func (s *Services) Pool(ctx context.Context, asset string) (*lending.Pool, error) {
	p, err := s.Registry.Pool(asset)
	if err != nil {
		return nil, err
	}
	return lending.NewPool(ctx, lending.NewConfig(p.Asset, p.CollateralAsset, s.cfg.Lending, s.cfg.Ledger.TransferTimeout), s.DbService, s.Ledger)
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// InitializePrime connects to Prime and resolves the default portfolio.
func InitializePrime(ctx context.Context) (*prime.Service, *models.Portfolio, error) {
	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		return nil, nil, err
	}

	primeService, err := prime.NewService(creds)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("Finding default portfolio")
	defaultPortfolio, err := primeService.FindDefaultPortfolio(ctx)
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("Using default portfolio",
		zap.String("name", defaultPortfolio.Name),
		zap.String("id", defaultPortfolio.Id))

	return primeService, defaultPortfolio, nil
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

// Actor builds the caller identity for command-line tools.
func Actor(id string, roles ...string) models.Actor {
	actor := models.Actor{Id: id}
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			actor.Roles = append(actor.Roles, models.Role(r))
		}
	}
	return actor
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
