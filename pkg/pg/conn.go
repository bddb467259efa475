package pg

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// Config describes one postgres endpoint. The api binary builds two of them,
// one for the read replica and one for the primary.
type Config struct {
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
	SSLMode  string `env:"SSLMODE"`

	// URL wins over the discrete fields when set (DATABASE_URL style).
	URL string `env:"URL"`
}

func (c Config) sslMode() string {
	if c.SSLMode == "" {
		return "disable"
	}
	return c.SSLMode
}

// dsn renders the keyword form that both lib/pq and pgx accept. Timestamps
// are stored and read back in UTC.
func dsn(c Config) string {
	if c.URL != "" {
		if strings.Contains(c.URL, "TimeZone=") || strings.Contains(c.URL, "timezone=") {
			return c.URL
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			return c.URL
		}
		q := u.Query()
		q.Set("TimeZone", "UTC")
		u.RawQuery = q.Encode()
		return u.String()
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.Database, c.Port, c.sslMode())
}

// newSqlConnection opens a plain database/sql handle through lib/pq, used by
// goose which does not speak gorm.
func newSqlConnection(c Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn(c))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	return db, nil
}
