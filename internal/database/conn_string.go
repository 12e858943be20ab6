package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/livesession/internal/config"
)

// ApplicationName identifies journal connections in pg_stat_activity.
const ApplicationName = "sessionctl"

// BuildConnString builds a PostgreSQL URL from config. User and password
// are escaped as userinfo, so '@', ':', '/' and spaces survive the round
// trip through pgx's parser.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
