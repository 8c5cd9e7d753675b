package driver

import (
	"context"
	"strings"
	"testing"
)

type stubConnector struct{ dsn string }

func (s *stubConnector) Connect(ctx context.Context) (Conn, error) { return nil, nil }

func TestSplitConnString(t *testing.T) {
	tests := []struct {
		in      string
		scheme  string
		dsn     string
		wantErr bool
	}{
		{in: "sqlite3://file:test.db?_fk=1", scheme: "sqlite3", dsn: "file:test.db?_fk=1"},
		{in: "MySQL://user:pw@tcp(localhost:3306)/app", scheme: "mysql", dsn: "user:pw@tcp(localhost:3306)/app"},
		{in: "mock://", scheme: "mock", dsn: ""},
		{in: "no-scheme", wantErr: true},
		{in: "://dsn", wantErr: true},
	}

	for _, tt := range tests {
		scheme, dsn, err := SplitConnString(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.in, err)
			continue
		}
		if scheme != tt.scheme || dsn != tt.dsn {
			t.Errorf("%q: got (%q, %q), want (%q, %q)", tt.in, scheme, dsn, tt.scheme, tt.dsn)
		}
	}
}

func TestRegisterAndOpen(t *testing.T) {
	Register("stubtest", func(connStr, dsn string) (Connector, error) {
		return &stubConnector{dsn: dsn}, nil
	})

	c, err := Open("stubtest://some-dsn")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	stub, ok := c.(*stubConnector)
	if !ok {
		t.Fatalf("expected *stubConnector, got %T", c)
	}
	if stub.dsn != "some-dsn" {
		t.Errorf("expected dsn=some-dsn, got %s", stub.dsn)
	}
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open("nosuchdriver://x")
	if err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	if !strings.Contains(err.Error(), "nosuchdriver") {
		t.Errorf("error should name the scheme, got: %v", err)
	}
}

func TestParseIsolationLevel(t *testing.T) {
	tests := map[string]IsolationLevel{
		"":                 LevelDefault,
		"read committed":   ReadCommitted,
		"READ_UNCOMMITTED": ReadUncommitted,
		"Repeatable  Read": RepeatableRead,
		"serializable":     Serializable,
	}

	for in, want := range tests {
		got, err := ParseIsolationLevel(in)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %s, got %s", in, want, got)
		}
	}

	if _, err := ParseIsolationLevel("chaos"); err == nil {
		t.Error("expected error for unknown level")
	}
}
