package database

import (
	"strings"
	"testing"

	"github.com/tujanalyst/tujanalyst/internal/config"
)

func TestDataSourceName(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		want    string
		wantErr bool
	}{
		{
			name: "explicit url wins",
			cfg:  config.DatabaseConfig{URL: "postgres://u:p@localhost:5432/tuj", InstanceConnectionName: "proj:region:inst"},
			want: "postgres://u:p@localhost:5432/tuj",
		},
		{
			name: "cloud sql with password",
			cfg:  config.DatabaseConfig{InstanceConnectionName: "proj:region:inst", User: "tuj", Password: "pw", Name: "tuj"},
			want: "host=/cloudsql/proj:region:inst user=tuj password=pw dbname=tuj sslmode=disable",
		},
		{
			name: "cloud sql iam auth",
			cfg:  config.DatabaseConfig{InstanceConnectionName: "proj:region:inst", User: "tuj", Name: "tuj"},
			want: "host=/cloudsql/proj:region:inst user=tuj dbname=tuj sslmode=disable",
		},
		{
			name: "password with spaces is quoted",
			cfg:  config.DatabaseConfig{InstanceConnectionName: "p:r:i", User: "tuj", Password: "a b'c", Name: "tuj"},
			want: `host=/cloudsql/p:r:i user=tuj password='a b\'c' dbname=tuj sslmode=disable`,
		},
		{name: "nothing configured", cfg: config.DatabaseConfig{}, wantErr: true},
		{name: "instance without user", cfg: config.DatabaseConfig{InstanceConnectionName: "p:r:i", Name: "tuj"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DataSourceName(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DataSourceName: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRedactDSN(t *testing.T) {
	got := RedactDSN("postgres://tuj:s3cret@db:5432/tuj?sslmode=disable")
	if strings.Contains(got, "s3cret") {
		t.Errorf("password leaked in %q", got)
	}
	got = RedactDSN("host=/cloudsql/p:r:i user=tuj password=s3cret dbname=tuj")
	if strings.Contains(got, "s3cret") || !strings.Contains(got, "password=xxxxx") {
		t.Errorf("unexpected redaction %q", got)
	}
}
