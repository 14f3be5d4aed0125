package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tujanalyst/tujanalyst/internal/config"
)

// cloudSQLSocketDir is where Cloud Run mounts Cloud SQL instances.
const cloudSQLSocketDir = "/cloudsql"

// DataSourceName returns the lib/pq connection string for cfg. An explicit
// URL wins; otherwise a Cloud SQL unix socket DSN is built.
func DataSourceName(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	if cfg.InstanceConnectionName == "" {
		return "", fmt.Errorf("neither TUJ_DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=" + cloudSQLSocketDir + "/" + cfg.InstanceConnectionName,
		"user=" + cfg.User,
	}
	// No password means IAM database authentication.
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(cfg.Password))
	}
	parts = append(parts, "dbname="+cfg.Name, "sslmode=disable")
	return strings.Join(parts, " "), nil
}

// RedactDSN hides the password in a URL or key=value connection string.
func RedactDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "invalid-url"
		}
		return u.Redacted()
	}

	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
