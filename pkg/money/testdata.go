package money

import (
	"encoding/csv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TestDataGenerator produces realistic financial fixtures using gofakeit.
// Intended for tests and local seeding only.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a fixed seed so fixtures are
// reproducible across runs.
func NewTestDataGenerator(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// TestTransaction is a generated ledger entry.
type TestTransaction struct {
	ID          uuid.UUID
	Date        time.Time
	Description string
	Merchant    string
	Amount      *Money
	IsExpense   bool
}

// Transaction generates a single random transaction in the given currency.
func (g *TestDataGenerator) Transaction(currency string) TestTransaction {
	isExpense := g.faker.Bool()
	minor := int64(g.faker.Number(100, 50000))
	amount := New(minor, currency)
	if isExpense {
		amount = amount.Negate()
	}

	merchant := g.faker.Company()
	return TestTransaction{
		ID:          uuid.New(),
		Date:        g.faker.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()),
		Description: strings.ToUpper(merchant) + " " + g.faker.Zip(),
		Merchant:    merchant,
		Amount:      amount,
		IsExpense:   isExpense,
	}
}

// Transactions generates n random transactions.
func (g *TestDataGenerator) Transactions(currency string, n int) []TestTransaction {
	txs := make([]TestTransaction, n)
	for i := range txs {
		txs[i] = g.Transaction(currency)
	}
	return txs
}

// StatementCSV renders transactions as a bank-statement-shaped CSV with
// signed amounts, suitable for feeding the import parser in tests.
// Generated company names may carry commas, so fields go through a proper
// CSV writer.
func (g *TestDataGenerator) StatementCSV(txs []TestTransaction) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"Date", "Description", "Amount"})
	for _, tx := range txs {
		amount := decimal.New(tx.Amount.Minor(), -2)
		_ = w.Write([]string{tx.Date.Format("2006-01-02"), tx.Description, amount.String()})
	}
	w.Flush()
	return b.String()
}
