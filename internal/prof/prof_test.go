package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/sms-ratelimiter/internal/log"
)

// Disabled path

func TestStart_Disabled(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())

	stop, err := Start(ctx, Options{
		Enabled:              false,
		TenantID:             "tenant",
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
	})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	stop()
	stop()
}

// Enabled - validation

func TestStart_Enabled_InvalidAddress(t *testing.T) {
	for _, addr := range []string{"", "localhost:4040", "://bad"} {
		stop, err := Start(context.Background(), Options{Enabled: true, ServerAddress: addr, AppName: "test"})
		if err == nil {
			t.Fatalf("address %q: expected error", addr)
		}
		if !strings.Contains(err.Error(), "invalid server address") {
			t.Fatalf("address %q: error = %q", addr, err.Error())
		}
		if stop == nil {
			t.Fatalf("address %q: stop must be non-nil even on error", addr)
		}
		stop()
	}
}

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily, so this usually succeeds; either way stop
	// must be usable more than once
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://127.0.0.1:1",
		AppName:       "sms-ratelimiter",
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
	stop()
}

// ProfileTypes

func TestProfileTypes(t *testing.T) {
	has := func(types []pyroscope.ProfileType, want pyroscope.ProfileType) bool {
		for _, pt := range types {
			if pt == want {
				return true
			}
		}
		return false
	}

	base := Options{}.ProfileTypes()
	if !has(base, pyroscope.ProfileCPU) || !has(base, pyroscope.ProfileInuseSpace) {
		t.Fatalf("base types missing cpu/heap: %v", base)
	}
	if has(base, pyroscope.ProfileMutexCount) || has(base, pyroscope.ProfileBlockCount) {
		t.Fatalf("mutex/block included without sampling: %v", base)
	}

	full := Options{ProfileMutexFraction: 5, BlockProfileRate: 1000}.ProfileTypes()
	for _, want := range []pyroscope.ProfileType{
		pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration,
		pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration,
	} {
		if !has(full, want) {
			t.Errorf("missing %s", want)
		}
	}
}
