package utils

import (
	"context"
	"testing"
	"time"
)

func TestOfflineScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if offlineEnqueueScript == nil || drainListScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestOfflineHelpersValidateArgs(t *testing.T) {
	ctx := context.Background()
	if err := EnqueueOffline(ctx, nil, "k", "p", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := EnqueueOffline(ctx, nil, "", "p", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := DrainList(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
