package postgresql_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// TestDatabaseSetup holds the connection to the test database.
type TestDatabaseSetup struct {
	DB *database.DB
}

// NewTestDatabase connects to TEST_DATABASE_URL and applies migrations. The
// test is skipped when the variable is not set.
func NewTestDatabase(t *testing.T) *TestDatabaseSetup {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewPostgreSQLDB(ctx, dsn, database.PoolOptions{MaxConns: 5, MinConns: 1})
	require.NoError(t, err, "failed to connect to test database")
	require.NoError(t, database.Migrate(ctx, db))

	setup := &TestDatabaseSetup{DB: db}
	require.NoError(t, setup.TruncateAllTables(ctx))
	t.Cleanup(setup.Close)
	return setup
}

// TruncateAllTables removes every row the payroll tests write.
func (s *TestDatabaseSetup) TruncateAllTables(ctx context.Context) error {
	tx, err := s.DB.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tables := []string{
		"payroll_outbox_events",
		"payroll_items",
		"payroll_periods",
		"payroll_deduction_rules",
		"payroll_benefit_rules",
		"employees",
	}

	for _, table := range tables {
		_, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}

// CreateEmployee inserts an active employee and returns its id.
func (s *TestDatabaseSetup) CreateEmployee(t *testing.T, companyID, name string, salary decimal.Decimal, frequency string) string {
	t.Helper()

	var id string
	err := s.DB.QueryRow(context.Background(), `
		INSERT INTO employees (id, company_id, full_name, basic_salary, pay_frequency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, uuid.NewString(), companyID, name, salary, frequency).Scan(&id)
	require.NoError(t, err)
	return id
}

func (s *TestDatabaseSetup) Close() {
	s.DB.Close()
}
