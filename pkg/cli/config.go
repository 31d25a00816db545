package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	backendMemory    = "memory"
	backendSQLite    = "sqlite"
	backendPostgres  = "postgres"
	backendFirestore = "firestore"
	backendGCS       = "gcs"
	backendDynamoDB  = "dynamodb"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Simulation
	simConfigPath string
	seed          int64

	// Repository
	backend     string
	sqlitePath  string
	postgresDSN string
	project     string
	database    string
	bucket      string
	prefix      string
	dynamoTable string
	awsRegion   string
	noFallback  bool

	// Adapters
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel    string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MESHSIM_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("MESHSIM_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to simulation config YAML",
			Sources:     cli.EnvVars("MESHSIM_CONFIG"),
			Destination: &cfg.simConfigPath,
		},
		&cli.IntFlag{
			Name:        "seed",
			Usage:       "Random seed for graph construction and delays (0 seeds from time)",
			Sources:     cli.EnvVars("MESHSIM_SEED"),
			Destination: &cfg.seed,
		},
	}
}

// storeFlags returns flags selecting and configuring the persistence backend
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Persistence backend (memory, sqlite, postgres, firestore, gcs, dynamodb)",
			Value:       backendSQLite,
			Sources:     cli.EnvVars("MESHSIM_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file",
			Value:       "meshsim.db",
			Sources:     cli.EnvVars("MESHSIM_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL connection string",
			Sources:     cli.EnvVars("MESHSIM_POSTGRES_DSN"),
			Destination: &cfg.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket",
			Sources:     cli.EnvVars("MESHSIM_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Collection or object prefix for cloud backends",
			Value:       "meshsim",
			Sources:     cli.EnvVars("MESHSIM_PREFIX"),
			Destination: &cfg.prefix,
		},
		&cli.StringFlag{
			Name:        "dynamodb-table",
			Usage:       "DynamoDB table name",
			Sources:     cli.EnvVars("MESHSIM_DYNAMODB_TABLE"),
			Destination: &cfg.dynamoTable,
		},
		&cli.StringFlag{
			Name:        "aws-region",
			Usage:       "AWS region for DynamoDB",
			Sources:     cli.EnvVars("AWS_REGION"),
			Destination: &cfg.awsRegion,
		},
		&cli.BoolFlag{
			Name:        "no-fallback",
			Usage:       "Fail instead of falling back to memory when the backend is unreachable",
			Sources:     cli.EnvVars("MESHSIM_NO_FALLBACK"),
			Destination: &cfg.noFallback,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// initLogger installs the configured logger as default and into ctx
func (cfg *config) initLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr, logging.WithFormat(logging.ParseFormat(cfg.logFormat)))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// opener returns the Opener of the selected backend
func (cfg *config) opener() (repository.Opener, error) {
	switch cfg.backend {
	case backendMemory:
		return repository.MemoryOpener(repository.NewMemory()), nil

	case backendSQLite:
		if cfg.sqlitePath == "" {
			return nil, goerr.New("sqlite-path is required")
		}
		return repository.SQLiteOpener(cfg.sqlitePath), nil

	case backendPostgres:
		if cfg.postgresDSN == "" {
			return nil, goerr.New("postgres-dsn is required")
		}
		return repository.PostgresOpener(cfg.postgresDSN), nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		return repository.FirestoreOpener(cfg.project, cfg.database, cfg.prefix), nil

	case backendGCS:
		if cfg.bucket == "" {
			return nil, goerr.New("bucket is required")
		}
		return repository.ObjectStoreOpener(cfg.bucket, cfg.prefix), nil

	case backendDynamoDB:
		if cfg.dynamoTable == "" {
			return nil, goerr.New("dynamodb-table is required")
		}
		return repository.DynamoDBOpener(cfg.dynamoTable, cfg.awsRegion), nil

	default:
		return nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendMemory, backendSQLite, backendPostgres, backendFirestore, backendGCS, backendDynamoDB}))
	}
}

// newRepository creates a new repository instance. Unless disabled, the
// backend is wrapped so that an unreachable store degrades to memory.
func (cfg *config) newRepository(ctx context.Context, sc *simConfig) (*repository.Repository, error) {
	open, err := cfg.opener()
	if err != nil {
		return nil, err
	}

	if !cfg.noFallback && cfg.backend != backendMemory {
		open = repository.NewFallback(open, nil, sc.Fallback).Open
	}

	repo, err := repository.New(ctx, open, repository.WithRetryPolicy(sc.Retry))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository", goerr.V("backend", cfg.backend))
	}
	return repo, nil
}

// newGemini creates a new Gemini adapter instance, or nil when no credential
// is configured
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	var opts []adapter.GeminiOption
	switch {
	case cfg.geminiAPIKey != "":
		opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
	case cfg.geminiProject != "":
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, cfg.geminiLocation))
	default:
		return nil, nil
	}
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}

	client, err := adapter.NewGemini(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// newSimulation loads the simulation config, opens the repository and starts
// a Simulation. Without Gemini credentials, queries get canned answers.
func (cfg *config) newSimulation(ctx context.Context) (*sim.Simulation, *simConfig, error) {
	sc, err := loadSimConfig(cfg.simConfigPath)
	if err != nil {
		return nil, nil, err
	}

	repo, err := cfg.newRepository(ctx, sc)
	if err != nil {
		return nil, nil, err
	}

	seed := sc.Seed
	if cfg.seed != 0 {
		seed = uint64(cfg.seed)
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, nil, err
	}

	s := sim.New(sim.Input{
		Repo:    repo,
		Network: sc.Network,
		Delay:   sc.Delay,
		Gemini:  gemini,
		Seed:    seed,
	})

	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return nil, nil, goerr.Wrap(err, "failed to start simulation")
	}
	return s, sc, nil
}
