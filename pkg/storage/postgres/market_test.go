package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AxsolTools/bonk1st-sub009/pkg/storage/postgres"
)

// MARKETD_TEST_DSN=postgres://... go test -v --run TestMarketStateCRUD ./pkg/storage/postgres
func testClient(t *testing.T) *postgres.PostgresClient {
	dsn := os.Getenv("MARKETD_TEST_DSN")
	if dsn == "" {
		t.Skip("MARKETD_TEST_DSN not set")
	}

	client, err := postgres.NewClient(dsn)
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.AutoMigrateMarketState(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return client
}

func TestMarketStateCRUD(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	mint := "test-mint-" + time.Now().Format("20060102150405")
	firstSeen := time.Now().Truncate(time.Second)

	// Create
	token := &postgres.TokenRecord{
		Mint:        mint,
		Symbol:      "TST",
		Name:        "Test Token",
		LogoURI:     "https://img.invalid/t.png",
		FirstSeenAt: firstSeen,
	}
	if err := client.UpsertToken(ctx, token); err != nil {
		t.Fatalf("upsert token failed: %v", err)
	}

	// Upsert again with fresher metadata: first-seen must be preserved.
	token2 := &postgres.TokenRecord{
		Mint:        mint,
		Symbol:      "TST2",
		Name:        "Test Token v2",
		FirstSeenAt: time.Now().Add(time.Hour),
	}
	if err := client.UpsertToken(ctx, token2); err != nil {
		t.Fatalf("re-upsert token failed: %v", err)
	}

	state := &postgres.CurveStateRecord{
		Mint:       mint,
		SolInCurve: 42.5,
		Progress:   50,
		ObservedAt: time.Now(),
	}
	if err := client.UpsertCurveState(ctx, state); err != nil {
		t.Fatalf("upsert curve state failed: %v", err)
	}

	// Read
	got, err := client.GetCurveState(ctx, mint)
	if err != nil {
		t.Fatalf("get curve state failed: %v", err)
	}
	if got.Progress != 50 || got.SolInCurve != 42.5 {
		t.Errorf("unexpected curve state: %+v", got)
	}

	// Update via migration
	if err := client.SetMigrationStage(ctx, mint, "raydium", time.Now()); err != nil {
		t.Fatalf("set migration stage failed: %v", err)
	}
	migrated, err := client.GetCurveState(ctx, mint)
	if err != nil {
		t.Fatalf("get after migration failed: %v", err)
	}
	if migrated.Stage != "raydium" || migrated.Progress != 100 {
		t.Errorf("migration not applied: %+v", migrated)
	}

	// Delete
	if err := client.DeleteStaleCurveStates(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Errorf("delete failed: %v", err)
	}
	if _, err := client.GetCurveState(ctx, mint); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestIsHealthy(t *testing.T) {
	client := testClient(t)
	if !client.IsHealthy(context.Background()) {
		t.Error("expected healthy connection")
	}
}
