package registry

import (
	"fmt"
	"net/url"

	"github.com/rickgao/pushgate/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
// scheme is "postgres" for pgxpool and "pgx5" for the migration driver.
func BuildConnString(scheme string, cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme,
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
