package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/projecthub-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestTransactionsMigrationEnforcesSessionUniqueness(t *testing.T) {
	assertContains(t, readMigration(t, "create_payment_transactions"), []string{
		"CREATE TABLE IF NOT EXISTS payment_transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_transactions_session_id",
		"ux_payment_transactions_payment_intent_id",
		"payment_status payment_status_enum NOT NULL DEFAULT 'pending'",
		"DROP TABLE IF EXISTS payment_transactions",
	})
}

func TestPurchasesMigrationGuardsEntitlements(t *testing.T) {
	assertContains(t, readMigration(t, "create_purchases"), []string{
		"CREATE TABLE IF NOT EXISTS purchases",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_purchases_session_id",
		"CHECK (downloads_remaining >= 0)",
		"DROP TABLE IF EXISTS purchases",
	})
}

func TestDownloadMigrations(t *testing.T) {
	assertContains(t, readMigration(t, "create_download_tokens"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_download_tokens_token",
		"max_downloads integer NOT NULL DEFAULT 1",
		"FOREIGN KEY (purchase_id) REFERENCES purchases(id)",
	})
	assertContains(t, readMigration(t, "create_download_activity"), []string{
		"CREATE TABLE IF NOT EXISTS download_activity",
		"BEFORE UPDATE OR DELETE ON download_activity",
	})
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}
