package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

func init() {
	godotenv.Load()
}

// databaseDSN builds the ledger DSN from DB_*. A DB_HOST of /cloudsql/<instance>
// goes through the Cloud SQL proxy socket.
func databaseDSN() string {
	host := os.Getenv("DB_HOST")
	network, address := "tcp", fmt.Sprintf("%s:%s", host, os.Getenv("DB_PORT"))
	if strings.HasPrefix(host, "/cloudsql/") {
		network, address = "unix", host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		network,
		address,
		os.Getenv("DB_NAME"),
	)
}

type poolSettings struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func poolSettingsFromEnv() poolSettings {
	return poolSettings{
		MaxOpen:     intFromEnv("DB_MAX_OPEN_CONNS", 50),
		MaxIdle:     intFromEnv("DB_MAX_IDLE_CONNS", 25),
		MaxLifetime: time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		MaxIdleTime: time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
	}
}

func (p poolSettings) apply(g *gorm.DB) error {
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	if p.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(p.MaxOpen)
	}
	if p.MaxIdle >= 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdle)
	}
	if p.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.MaxLifetime)
	}
	if p.MaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.MaxIdleTime)
	}
	return nil
}

// retryDelay backs off 2s, 4s, 8s ... capped at 30s.
func retryDelay(attempt int) time.Duration {
	d := time.Second << min(attempt, 5)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// ConnectDatabase opens the ledger database and sets the global DB.
// maxAttempts <= 0 keeps trying until ctx ends.
func ConnectDatabase(ctx context.Context, maxAttempts int) error {
	log := GetLogger().WithFields(logrus.Fields{"field": "database"})
	dsn := databaseDSN()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, err := gorm.Open(mysql.Open(dsn), gormConfig())
		if err == nil {
			if perr := poolSettingsFromEnv().apply(g); perr != nil {
				log.Warn("pool settings not applied: " + perr.Error())
			}
			if perr := g.Use(otelgorm.NewPlugin()); perr != nil {
				log.Warn("otelgorm plugin not installed: " + perr.Error())
			}
			db = g
			log.WithFields(logrus.Fields{"attempt": attempt}).Info("connected to database")
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("connect database after %d attempts: %w", attempt, err)
		}

		wait := retryDelay(attempt)
		log.WithFields(logrus.Fields{"attempt": attempt, "retry_in": wait.String()}).Warn("database not reachable: " + err.Error())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// ConnectDatabaseWithRetry is the server's startup path: it blocks until the
// database answers. The HTTP listener must already be up.
func ConnectDatabaseWithRetry() {
	_ = ConnectDatabase(context.Background(), 0)
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormLogger(),
		NamingStrategy: schema.NamingStrategy{},
	}
}

// gormLogger routes GORM through the logrus singleton. GORM_LOG_LEVEL=info
// logs every statement; the default only logs errors and slow queries.
func gormLogger() logger.Interface {
	level := logger.Error
	switch strings.ToLower(strings.TrimSpace(os.Getenv("GORM_LOG_LEVEL"))) {
	case "silent":
		level = logger.Silent
	case "warn":
		level = logger.Warn
	case "info":
		level = logger.Info
	}
	return logger.New(GetLogger().WithFields(logrus.Fields{"field": "gorm"}), logger.Config{
		LogLevel:      level,
		SlowThreshold: time.Second,
	})
}
