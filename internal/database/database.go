package database

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/xelth-com/stocksyncgo/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultEmbeddedDataPath = "./db_data"
	defaultEmbeddedPort     = 5433
)

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
}

// preflightEmbedded makes sure the embedded server can start in dataPath on
// port. A postmaster.pid left by a crashed run is removed. A live owner is
// reported rather than stopped, since it may be another instance of this
// service sharing the directory.
func preflightEmbedded(dataPath string, port int) error {
	pidFile := filepath.Join(dataPath, "postmaster.pid")
	if data, err := os.ReadFile(pidFile); err == nil {
		first, _, _ := strings.Cut(string(data), "\n")
		pid, err := strconv.Atoi(strings.TrimSpace(first))
		switch {
		case err != nil:
			log.Printf("🧹 Removing unreadable postmaster.pid in %s", dataPath)
		case processAlive(pid):
			return fmt.Errorf("embedded database in %s is already running (pid %d)", dataPath, pid)
		default:
			log.Printf("🧹 Removing stale postmaster.pid (pid %d is gone)", pid)
		}
		if err := os.Remove(pidFile); err != nil {
			return fmt.Errorf("failed to remove %s: %w", pidFile, err)
		}
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("port %d is already in use; set EMBEDDED_PG_PORT", port)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 probes without delivering anything
	return process.Signal(syscall.Signal(0)) == nil
}

func gormConfig(logSQL bool) *gorm.Config {
	logLevel := logger.Silent
	if logSQL {
		logLevel = logger.Info
	}
	return &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// Single statements run outside an implicit transaction so catalog
		// change hooks can hand off to the engine without holding a tx open.
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
}

// Connect opens the configured database. Postgres runs embedded when the
// host is localhost and no password is set.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Driver == "sqlite" {
		log.Printf("📦 Mode: [SQLite] - %s", cfg.SQLitePath)
		return OpenSQLite(cfg.SQLitePath, cfg.LogSQL)
	}

	var embedded *embeddedpostgres.EmbeddedPostgres

	isEmbedded := cfg.Host == "localhost" && cfg.Password == ""

	password := cfg.Password
	if isEmbedded {
		log.Println("📦 Mode: [Embedded PostgreSQL] - Initializing internal database...")

		dataPath, port := cfg.EmbeddedDataPath, cfg.EmbeddedPort
		if dataPath == "" {
			dataPath = defaultEmbeddedDataPath
		}
		if port <= 0 {
			port = defaultEmbeddedPort
		}
		if err := preflightEmbedded(dataPath, port); err != nil {
			return nil, err
		}

		embeddedCfg := embeddedpostgres.DefaultConfig().
			DataPath(dataPath).
			Port(uint32(port)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password("postgres")

		embedded = embeddedpostgres.NewDatabase(embeddedCfg)
		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		cfg.Port = strconv.Itoa(port)
		password = "postgres"
		log.Printf("✅ Embedded PostgreSQL process started on port %d", port)
	} else {
		log.Printf("🌐 Mode: [External PostgreSQL] - Connecting to %s:%s", cfg.Host, cfg.Port)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		password,
		cfg.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cfg.LogSQL))
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Println("✅ Database connection established")

	return &DB{DB: db, embedded: embedded}, nil
}

// OpenSQLite opens a SQLite database. ":memory:" gives a private in-memory
// database. SQLite has one writer, so the pool is capped at one connection.
func OpenSQLite(path string, logSQL bool) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(logSQL))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &DB{DB: db}, nil
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}

	if db.embedded != nil {
		log.Println("🛑 Stopping Embedded PostgreSQL process...")
		_ = db.embedded.Stop()
	}
	return err
}
