package main

import (
	"testing"
	"time"
)

func TestResolveStorageDriver(t *testing.T) {
	cases := []struct {
		name      string
		flagValue string
		envValue  string
		dsn       string
		want      string
	}{
		{name: "flag wins", flagValue: "json", envValue: "postgres", dsn: "postgres://x", want: "json"},
		{name: "env fallback", envValue: "postgres", want: "postgres"},
		{name: "dsn implies postgres", dsn: "postgres://x", want: "postgres"},
		{name: "default json", want: "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveStorageDriver(tc.flagValue, tc.envValue, tc.dsn)
			if err != nil {
				t.Fatalf("resolveStorageDriver: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateProductionDatastore(t *testing.T) {
	if err := validateProductionDatastore("json", "", ""); err == nil {
		t.Fatal("json driver should be rejected in production")
	}
	if err := validateProductionDatastore("postgres", "", ""); err == nil {
		t.Fatal("postgres without DSN should be rejected in production")
	}
	if err := validateProductionDatastore("postgres", "postgres://db/mediabin", ""); err != nil {
		t.Fatalf("valid production config rejected: %v", err)
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("production default should be :80, got %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("development default should be :8080, got %q", got)
	}
	if got := resolveListenAddr(":9999", "production", ":7777"); got != ":9999" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveListenAddr("", "production", ":7777"); got != ":7777" {
		t.Fatalf("env should beat the default, got %q", got)
	}
}

func TestConfigureRevocationStoreDefaultsToMemory(t *testing.T) {
	store, closer, err := configureRevocationStore(revocationConfig{})
	if err != nil {
		t.Fatalf("configureRevocationStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a store")
	}
	if closer != nil {
		t.Fatal("memory store should not need a closer")
	}
}

func TestConfigureRevocationStoreRejectsUnknownDriver(t *testing.T) {
	if _, _, err := configureRevocationStore(revocationConfig{Driver: "etcd"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a , b ,, c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("blank input should return nil")
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(5*time.Second, "MEDIABIN_TEST_UNSET", time.Minute); got != 5*time.Second {
		t.Fatalf("flag should win, got %v", got)
	}
	t.Setenv("MEDIABIN_TEST_DURATION", "30s")
	if got := resolveDuration(0, "MEDIABIN_TEST_DURATION", time.Minute); got != 30*time.Second {
		t.Fatalf("env should win over fallback, got %v", got)
	}
	if got := resolveDuration(0, "MEDIABIN_TEST_UNSET", time.Minute); got != time.Minute {
		t.Fatalf("fallback expected, got %v", got)
	}
}
