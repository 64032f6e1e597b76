package conformance

import (
	"testing"
)

// TestConformance runs the full catalog scenario.
func TestConformance(t *testing.T) {
	harness, err := NewHarness(Config{AuditDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	harness.RunScenario(t)
}

// TestCogLifecycle runs the single-cog ingest, query and purge flow.
func TestCogLifecycle(t *testing.T) {
	harness, err := NewHarness(Config{AuditDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	harness.RunCogLifecycle(t)
}
