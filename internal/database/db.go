package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options identifies the database to connect to.
type Options struct {
	Driver  string
	User    string
	Pass    string
	Host    string
	Port    string
	Name    string
	SSLMode string
}

// DSN builds the driver specific connection string.
func (o Options) DSN() (string, error) {
	switch o.Driver {
	case DriverMySQL:
		auth := o.User
		if o.Pass != "" {
			auth = fmt.Sprintf("%s:%s", o.User, o.Pass)
		}
		// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
		return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			auth, o.Host, o.Port, o.Name), nil
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   o.Host + ":" + o.Port,
			Path:   "/" + o.Name,
		}
		if o.Pass != "" {
			u.User = url.UserPassword(o.User, o.Pass)
		} else {
			u.User = url.User(o.User)
		}
		q := url.Values{}
		sslMode := o.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q.Set("sslmode", sslMode)
		q.Set("timezone", "UTC")
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", o.Driver)
}

// Open connects to the configured database and verifies the connection.
func Open(o Options) (*sqlx.DB, error) {
	dsn, err := o.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(o.Driver, dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
