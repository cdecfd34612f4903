package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestDriverFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver Driver
		wantDSN    string
	}{
		{"postgres://u:p@db:5432/pear?sslmode=disable", DriverPostgres, "postgres://u:p@db:5432/pear?sslmode=disable"},
		{"postgresql://db/pear", DriverPostgres, "postgresql://db/pear"},
		{"sqlite://./data/pear.db", DriverSQLite, "./data/pear.db"},
		{"sqlite:/var/lib/pear.db", DriverSQLite, "/var/lib/pear.db"},
		{"/tmp/pear.db", DriverSQLite, "/tmp/pear.db"},
		{"", DriverSQLite, "./data/pear.db"},
	}
	for _, tt := range tests {
		driver, dsn := DriverFor(tt.url)
		if driver != tt.wantDriver || dsn != tt.wantDSN {
			t.Fatalf("DriverFor(%q) = %s, %q", tt.url, driver, dsn)
		}
	}
}

func TestOpen_SQLite(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "pear.db")
	h, err := Open(context.Background(), url, nil, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	if h.Driver != DriverSQLite {
		t.Fatalf("driver = %s", h.Driver)
	}
	n, err := h.Store.CountCustomers(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("count = %d, %v", n, err)
	}
}
