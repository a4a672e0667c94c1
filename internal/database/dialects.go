package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// dialect knows how to turn a Config into a gorm dialector for one database family.
type dialect struct {
	name     string
	dsn      func(cfg Config) (string, error)
	open     func(dsn string) gorm.Dialector
	prepare  func(db *gorm.DB) error
	defaults map[string]string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:    "sqlite",
		dsn:     sqliteDSN,
		open:    sqlite.Open,
		prepare: enableForeignKeys,
	},
	"postgres": {
		name: "postgres",
		dsn: func(cfg Config) (string, error) {
			return hostDSN(cfg, "localhost", 5432, func(host string, port int, opts []string) string {
				params := []string{
					"host=" + host,
					fmt.Sprintf("port=%d", port),
					"user=" + cfg.User,
					"dbname=" + cfg.Name,
				}
				if cfg.Password != "" {
					params = append(params, "password="+cfg.Password)
				}
				return strings.Join(append(params, opts...), " ")
			})
		},
		open:     postgres.Open,
		defaults: map[string]string{"sslmode": "disable", "TimeZone": "UTC"},
	},
	"mysql": {
		name: "mysql",
		dsn: func(cfg Config) (string, error) {
			return hostDSN(cfg, "127.0.0.1", 3306, func(host string, port int, opts []string) string {
				user := cfg.User
				if cfg.Password != "" {
					user += ":" + cfg.Password
				}
				return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, host, port, cfg.Name, strings.Join(opts, "&"))
			})
		},
		open:     mysql.Open,
		defaults: map[string]string{"charset": "utf8mb4", "parseTime": "True", "loc": "UTC"},
	},
}

var dialectAliases = map[string]string{
	"":           "sqlite",
	"sqlite3":    "sqlite",
	"postgresql": "postgres",
}

func lookupDialect(driver string) (dialect, bool) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if alias, ok := dialectAliases[driver]; ok {
		driver = alias
	}
	d, ok := dialects[driver]
	return d, ok
}

// buildDSN renders the connection string for cfg. An explicit DSN always wins.
func buildDSN(cfg Config) (string, error) {
	d, ok := lookupDialect(cfg.Driver)
	if !ok {
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	cfg.Options = mergeOptions(d.defaults, cfg.Options)
	return d.dsn(cfg)
}

func hostDSN(cfg Config, defaultHost string, defaultPort int, render func(host string, port int, opts []string) string) (string, error) {
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("host-based databases require a user and database name")
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	return render(host, port, sortedOptions(cfg.Options)), nil
}

func sqliteDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&_foreign_keys=1", nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	// WAL lets readers proceed while a lifecycle transaction holds the write lock.
	return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", filepath.ToSlash(path)), nil
}

func enableForeignKeys(db *gorm.DB) error {
	return db.Exec("PRAGMA foreign_keys = ON").Error
}

func mergeOptions(defaults, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return merged
}

func sortedOptions(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+options[key])
	}
	return out
}
