package db

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/signalbox/internal/config"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connector opens a fresh database handle. Callers release it with Close.
type Connector func() (*gorm.DB, error)

// DSN builds a MySQL DSN from connection settings.
func DSN(c config.MySQLConfig) string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Name
	mc.ParseTime = true
	// Report matched rather than changed rows so idempotent writes are not
	// mistaken for missing rows.
	mc.ClientFoundRows = true
	return mc.FormatDSN()
}

// SQLiteDSN appends the connection options signalbox relies on to a file path.
// The busy timeout lets the daemon and a CLI command share the file.
func SQLiteDSN(path string) string {
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

// OpenSQLite opens a GORM connection to an embedded SQLite database file.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	return db, nil
}

// OpenMySQL opens a GORM connection to a MySQL-compatible server.
func OpenMySQL(c config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(DSN(c)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", c.Host, c.Port, c.Name, err)
	}
	return db, nil
}

// Open connects to the database described by cfg.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		return OpenMySQL(cfg.Database.MySQL)
	case config.DriverSQLite, "":
		return OpenSQLite(cfg.ResolvePath(cfg.Database.Path))
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Database.Driver)
	}
}

// NewConnector returns a Connector bound to cfg.
func NewConnector(cfg *config.Config) Connector {
	return func() (*gorm.DB, error) {
		return Open(cfg)
	}
}

// Close releases the pool behind a GORM handle.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return nil
}
