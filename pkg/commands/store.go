package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/acorn-io/acorn-registry/pkg/backend"
	"github.com/acorn-io/acorn-registry/pkg/billing"
	"github.com/acorn-io/acorn-registry/pkg/db"
	"github.com/acorn-io/acorn-registry/pkg/kv"
	"github.com/acorn-io/acorn-registry/pkg/registry"
	"github.com/acorn-io/acorn-registry/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

const (
	kvBackendSQL      = "sql"
	kvBackendRedis    = "redis"
	kvBackendDynamoDB = "dynamodb"
)

// StoreFlags select and configure the durable key-value backend.
func StoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "kv-backend",
			Usage:   "Durable store for registry records: sql, redis or dynamodb",
			EnvVars: []string{"ACORN_KV_BACKEND", "KV_BACKEND"},
			Value:   kvBackendSQL,
		},
		&cli.StringFlag{
			Name:    "sql-dialect",
			Usage:   "The type of sql to use, sqlite or mysql",
			EnvVars: []string{"ACORN_SQL_DIALECT", "SQL_DIALECT"},
			Value:   "sqlite",
		},
		&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "The DSN to use to connect to",
			EnvVars: []string{"ACORN_SQL_DSN", "SQL_DSN"},
			Value:   "file:registry.sqlite?_pragma=busy_timeout(5000)",
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address when kv-backend is redis",
			EnvVars: []string{"REDIS_ADDR"},
			Value:   "localhost:6379",
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: []string{"REDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			EnvVars: []string{"REDIS_DB"},
		},
		&cli.StringFlag{
			Name:    "dynamodb-table",
			Usage:   "DynamoDB table when kv-backend is dynamodb",
			EnvVars: []string{"DYNAMODB_TABLE"},
			Value:   "registry",
		},
		&cli.StringFlag{
			Name:    "aws-region",
			Usage:   "AWS region for DynamoDB; the SDK default chain applies when empty",
			EnvVars: []string{"AWS_REGION"},
		},
	}
}

// RegistryFlags configure naming rules and quotas.
func RegistryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "reserved-subdomains",
			Usage:   "Comma separated names nobody may claim, merged with the stored list",
			EnvVars: []string{"RESERVED_SUBDOMAINS"},
		},
		&cli.StringFlag{
			Name:    "plan-quotas",
			Usage:   `JSON map of plan name to subdomain quota, e.g. {"pro":5}`,
			EnvVars: []string{"PLAN_QUOTAS"},
		},
		&cli.IntFlag{
			Name:    "min-subdomain-length",
			Usage:   "Shortest subdomain that may be claimed. Below 3, 1-2 character names must be alphanumeric",
			EnvVars: []string{"MIN_SUBDOMAIN_LENGTH"},
			Value:   registry.DefaultRules.MinLength,
		},
		&cli.Int64Flag{
			Name:    "reconcile-interval-seconds",
			Usage:   "How often stored quotas are enforced across all users",
			EnvVars: []string{"RECONCILE_INTERVAL_SECONDS"},
			Value:   3600,
		},
	}
}

func newKVStore(ctx context.Context, c *cli.Context) (kv.Store, func(), error) {
	noop := func() {}

	switch strings.ToLower(c.String("kv-backend")) {
	case kvBackendSQL:
		level, err := logLevel(c)
		if err != nil {
			return nil, noop, err
		}
		database, err := db.New(ctx, c.String("sql-dialect"), c.String("sql-dsn"), &gorm.Config{
			Logger: db.NewLogger(level),
		})
		if err != nil {
			return nil, noop, err
		}
		return database, func() {
			if err := database.Close(); err != nil {
				logrus.Errorf("unable to close database: %v", err)
			}
		}, nil
	case kvBackendRedis:
		store, err := kv.NewRedis(ctx, c.String("redis-addr"), c.String("redis-password"), c.Int("redis-db"))
		return store, noop, err
	case kvBackendDynamoDB:
		store, err := kv.NewDynamoDB(c.String("dynamodb-table"), c.String("aws-region"))
		return store, noop, err
	}
	return nil, noop, fmt.Errorf("unsupported kv backend %q", c.String("kv-backend"))
}

// newBackend builds the registry backend from the store and registry flags.
// The returned func releases the store.
func newBackend(ctx context.Context, c *cli.Context) (backend.Backend, func(), error) {
	plans, err := billing.ParsePlanQuotas(c.String("plan-quotas"))
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := newKVStore(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	rules := registry.DefaultRules
	rules.MinLength = c.Int("min-subdomain-length")

	b := backend.NewBackend(storage.New(store), backend.Options{
		Reserved:                 c.StringSlice("reserved-subdomains"),
		Rules:                    rules,
		PlanQuotas:               plans,
		ReconcileIntervalSeconds: c.Int64("reconcile-interval-seconds"),
	})
	return b, closeStore, nil
}
