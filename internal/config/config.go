// Package config holds the server settings shared by every command.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/db"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KNJIZNICA_"

// Cover store backends.
const (
	CoverStoreDB = "db"
	CoverStoreS3 = "s3"
)

// Config is the full runtime configuration.
type Config struct {
	DBDriver  string
	DSN       string
	Addr      string
	AdminUser string

	LoanPeriod    time.Duration
	HoldPeriod    time.Duration
	SweepInterval time.Duration
	MaxLoans      int

	CoverStore  string
	CoverCache  int
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	LogPath   string
	LogFormat string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBDriver:      db.DriverSQLite,
		DSN:           "knjiznica.sqlite3",
		Addr:          ":8080",
		AdminUser:     "admin",
		LoanPeriod:    circulation.DefaultLoanPeriod,
		HoldPeriod:    circulation.DefaultHoldPeriod,
		SweepInterval: circulation.DefaultSweepInterval,
		MaxLoans:      circulation.DefaultMaxLoans,
		CoverStore:    CoverStoreDB,
		CoverCache:    256,
		S3Region:      "us-east-1",
		LogFormat:     "text",
	}
}

// ApplyEnv overrides fields from KNJIZNICA_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []string
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("DB_DRIVER", &c.DBDriver)
	str("DSN", &c.DSN)
	str("ADDR", &c.Addr)
	str("ADMIN_USER", &c.AdminUser)
	dur("LOAN_PERIOD", &c.LoanPeriod)
	dur("HOLD_PERIOD", &c.HoldPeriod)
	dur("SWEEP_INTERVAL", &c.SweepInterval)
	num("MAX_LOANS", &c.MaxLoans)
	str("COVER_STORE", &c.CoverStore)
	num("COVER_CACHE", &c.CoverCache)
	str("S3_BUCKET", &c.S3Bucket)
	str("S3_REGION", &c.S3Region)
	str("S3_ENDPOINT", &c.S3Endpoint)
	flag("S3_PATH_STYLE", &c.S3PathStyle)
	str("LOG", &c.LogPath)
	str("LOG_FORMAT", &c.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q (want %s or %s)", c.DBDriver, db.DriverSQLite, db.DriverPostgres)
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN required")
	}
	if c.LoanPeriod <= 0 || c.HoldPeriod <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("loan period, hold period and sweep interval must be positive")
	}
	if c.MaxLoans < 0 {
		return fmt.Errorf("max loans must not be negative")
	}
	if c.CoverCache < 0 {
		return fmt.Errorf("cover cache size must not be negative")
	}
	switch c.CoverStore {
	case CoverStoreDB:
	case CoverStoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 cover store needs a bucket")
		}
	default:
		return fmt.Errorf("unknown cover store %q (want %s or %s)", c.CoverStore, CoverStoreDB, CoverStoreS3)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}
