package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.10.0", "1.9.0", true},
		{"1.2.0", "1.2.0", false},
		{"1.1.0", "1.2.0", false},
		{"2.0.0", "v1.99.99", true},
		{"garbage", "1.0.0", false},
	}
	for _, tt := range tests {
		if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVersionChecker_Refresh(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.9.9","draft":false,"prerelease":false}`))
	}))
	defer srv.Close()

	oldVersion := Version
	Version = "1.0.0"
	defer func() { Version = oldVersion }()

	vc := NewVersionChecker()
	vc.url = srv.URL

	if err := vc.refresh(context.Background()); err != nil {
		t.Fatalf("Expected first lookup to succeed, got %v", err)
	}
	info := vc.Info()
	if info.Latest != "9.9.9" || !info.UpdateAvail || info.Current != "1.0.0" {
		t.Errorf("Unexpected version info %+v", info)
	}

	if err := vc.refresh(context.Background()); err != nil {
		t.Fatalf("Expected conditional lookup to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 requests, got %d", calls)
	}
	if vc.Info().Latest != "9.9.9" {
		t.Errorf("Expected latest to be kept after 304, got %q", vc.Info().Latest)
	}
}

func TestVersionChecker_RefreshResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		latest  string
	}{
		{"release", http.StatusOK, `{"tag_name":"v2.1.0"}`, nil, "2.1.0"},
		{"prerelease_ignored", http.StatusOK, `{"tag_name":"v3.0.0-rc1","prerelease":true}`, nil, ""},
		{"no_releases", http.StatusNotFound, ``, nil, ""},
		{"missing_tag", http.StatusOK, `{}`, errNoReleaseTag, ""},
		{"rate_limited", http.StatusForbidden, ``, errReleaseStatus, ""},
		{"server_error", http.StatusBadGateway, ``, errReleaseStatus, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			vc := NewVersionChecker()
			vc.url = srv.URL

			err := vc.refresh(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got := vc.Info().Latest; got != tt.latest {
				t.Errorf("Expected latest %q, got %q", tt.latest, got)
			}
		})
	}
}

func TestVersionChecker_DevBuildNeverUpdates(t *testing.T) {
	vc := NewVersionChecker()
	vc.latest = "9.9.9"
	oldVersion := Version
	Version = "dev"
	defer func() { Version = oldVersion }()

	if vc.Info().UpdateAvail {
		t.Error("Expected no update for dev builds")
	}
}

func TestVersionChecker_Stop(t *testing.T) {
	idle := NewVersionChecker()
	idle.Stop()
	idle.Stop()

	running := NewVersionChecker()
	running.Start(context.Background())
	running.Stop()
	running.Stop()
}
