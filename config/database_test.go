package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDatabaseDSN(t *testing.T) {
	cases := []struct {
		name string
		host string
		port string
		want string
	}{
		{"tcp", "10.0.0.5", "3306", "tollops:pw@tcp(10.0.0.5:3306)/ledger?parseTime=true"},
		{"cloud sql socket", "/cloudsql/proj:asia-south1:ledger", "3306", "tollops:pw@unix(/cloudsql/proj:asia-south1:ledger)/ledger?parseTime=true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DB_USER", "tollops")
			t.Setenv("DB_PASSWORD", "pw")
			t.Setenv("DB_NAME", "ledger")
			t.Setenv("DB_HOST", tc.host)
			t.Setenv("DB_PORT", tc.port)
			if got := databaseDSN(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPoolSettingsFromEnv(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "")
	t.Setenv("DB_MAX_IDLE_CONNS", "not-a-number")
	t.Setenv("DB_CONN_MAX_LIFETIME_SECONDS", "120")
	t.Setenv("DB_CONN_MAX_IDLE_TIME_SECONDS", "")

	got := poolSettingsFromEnv()
	want := poolSettings{MaxOpen: 50, MaxIdle: 25, MaxLifetime: 2 * time.Minute, MaxIdleTime: time.Minute}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{
		1:  2 * time.Second,
		2:  4 * time.Second,
		4:  16 * time.Second,
		5:  30 * time.Second,
		40: 30 * time.Second,
	}
	for attempt, want := range cases {
		if got := retryDelay(attempt); got != want {
			t.Fatalf("retryDelay(%d) expected %s, got %s", attempt, want, got)
		}
	}
}

// Nothing listens on port 1, so every attempt fails fast.
func unreachableDatabase(t *testing.T) {
	t.Helper()
	t.Setenv("DB_USER", "tollops")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "ledger")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "1")
}

func TestConnectDatabase_GivesUp(t *testing.T) {
	unreachableDatabase(t)
	before := GetDB()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ConnectDatabase(cancelled, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	err := ConnectDatabase(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "after 1 attempts") {
		t.Fatalf("expected attempt cap error, got %v", err)
	}

	ctx, cancelDeadline := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelDeadline()
	start := time.Now()
	if err := ConnectDatabase(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if waited := time.Since(start); waited > 5*time.Second {
		t.Fatalf("retry loop ignored the deadline, waited %s", waited)
	}

	if GetDB() != before {
		t.Fatalf("failed connects must not replace the global DB")
	}
}
