package store

import (
	"fmt"
	"strings"
	"time"

	"nftstore/internal/config"
	"nftstore/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// BuildMySQLDSN accepts DB_HOST as a bare host, tcp(...), unix(...) or a socket path.
func BuildMySQLDSN(cfg config.AppConfig) string {
	addr := cfg.DBHost
	switch {
	case strings.HasPrefix(cfg.DBHost, "tcp("), strings.HasPrefix(cfg.DBHost, "unix("):
	case strings.HasPrefix(cfg.DBHost, "/"):
		addr = fmt.Sprintf("unix(%s)", cfg.DBHost)
	default:
		addr = fmt.Sprintf("tcp(%s:%s)", cfg.DBHost, cfg.DBPort)
	}
	return fmt.Sprintf("%s:%s@%s/%s?charset=utf8mb4&parseTime=True&loc=UTC", cfg.DBUser, cfg.DBPassword, addr, cfg.DBName)
}

// Open connects to the configured database.
func Open(cfg config.AppConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql":
		dialector = mysql.Open(BuildMySQLDSN(cfg))
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath + "?_busy_timeout=5000&_foreign_keys=on")
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	if cfg.DBDriver == "sqlite" {
		// one writer at a time; more connections only produce SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
	}
	return db, nil
}

// Migrate creates the schema and the lock rows.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	lock := model.TableLock{Name: model.LockProxyUnfold}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock).Error; err != nil {
		return fmt.Errorf("seed table locks: %w", err)
	}
	return nil
}
