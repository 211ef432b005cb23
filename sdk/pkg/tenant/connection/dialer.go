package connection

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/quillcms/tenantcore/sdk/pkg/logger"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/envloader"
)

// Optional pool tuning keys in the tenant payload.
const (
	keyMaxOpenConns    = "DB_MAX_OPEN_CONNS"
	keyMaxIdleConns    = "DB_MAX_IDLE_CONNS"
	keyConnMaxLifetime = "DB_CONN_MAX_LIFETIME" // seconds
	keyReplicas        = "DATABASE_REPLICAS"    // comma-separated DSNs
)

// Dialer creates a live backing-store client from a tenant's payload.
// The registry depends on this interface so tests can dial stubs.
type Dialer interface {
	Dial(ctx context.Context, cfg *envloader.EnvConfig) (*gorm.DB, error)
}

// GormDialer dials MySQL through gorm using the payload's DATABASE_URL,
// applying the payload's pool settings and optional read replicas.
type GormDialer struct {
	Log          *zap.Logger
	GormLogLevel int // gorm logger.LogLevel; 0 leaves gorm's default
}

func (d *GormDialer) Dial(ctx context.Context, cfg *envloader.EnvConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{}
	if d.Log != nil && d.GormLogLevel > 0 {
		gormCfg.Logger = logger.NewGormLogger(d.Log, d.GormLogLevel)
	}

	db, err := gorm.Open(mysql.Open(cfg.DatabaseURL()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open tenant database: %w", err)
	}

	if replicas := cfg.GetStringSlice(keyReplicas); len(replicas) > 0 {
		var dialectors []gorm.Dialector
		for _, dsn := range replicas {
			dialectors = append(dialectors, mysql.Open(dsn))
		}
		err = db.Use(dbresolver.Register(dbresolver.Config{Replicas: dialectors}))
		if err != nil {
			return nil, fmt.Errorf("register tenant replicas: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("tenant database pool: %w", err)
	}
	if n := cfg.GetInt(keyMaxOpenConns); n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	if n := cfg.GetInt(keyMaxIdleConns); n > 0 {
		sqlDB.SetMaxIdleConns(n)
	}
	if n := cfg.GetInt(keyConnMaxLifetime); n > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(n) * time.Second)
	}

	// Surface dial failures now rather than on the tenant's first query.
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping tenant database: %w", err)
	}

	return db, nil
}
