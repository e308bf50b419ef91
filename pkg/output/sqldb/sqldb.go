package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // postgres driver

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

// SQLOutput inserts one row per measurement. Each Publish opens its own
// connection and commits a single-statement transaction.
type SQLOutput struct {
	driver string
	dsn    string
	table  string
	tsCol  string
	open   func(driver, dsn string) (*sql.DB, error)
}

func NewSQL(cfg config.SQLConfig) output.Output {
	return &SQLOutput{
		driver: cfg.Driver,
		dsn:    DSN(cfg),
		table:  cfg.Table,
		tsCol:  cfg.TimestampColumn,
		open:   sql.Open,
	}
}

// DSN renders the connection string for the configured driver.
func DSN(cfg config.SQLConfig) string {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if cfg.Driver == "mysql" {
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = cfg.DBName
		mc.ParseTime = true
		return mc.FormatDSN()
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   addr,
		Path:   "/" + cfg.DBName,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

func (s *SQLOutput) Publish(ctx context.Context, m sensor.Measurement) error {
	if len(m.Fields) == 0 {
		return output.Skip("no fields to insert")
	}
	query, args := buildInsert(s.driver, s.table, s.tsCol, m)

	db, err := s.open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("sql open: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sql insert into %s: %w", s.table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql commit: %w", err)
	}
	return nil
}

func (s *SQLOutput) Close() error { return nil }

// buildInsert maps the measurement to one parameterised INSERT. Columns are
// the timestamp column when tsCol is set, the identity tags that are set,
// then fields in insertion order. Null fields bind as NULL.
func buildInsert(driver, table, tsCol string, m sensor.Measurement) (string, []interface{}) {
	var cols []string
	var args []interface{}
	for _, e := range m.Entries() {
		switch e.Key {
		case "timestamp":
			if tsCol == "" {
				continue
			}
			cols = append(cols, tsCol)
			args = append(args, m.Time().UTC().Truncate(time.Microsecond))
		default:
			cols = append(cols, e.Key)
			args = append(args, e.Value)
		}
	}
	if len(cols) == 0 {
		return "", nil
	}
	marks := make([]string, len(cols))
	for i := range marks {
		marks[i] = placeholder(driver, i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return query, args
}

func placeholder(driver string, n int) string {
	if driver == "mysql" {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}
