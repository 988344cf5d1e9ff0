package categorization

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestRepository_ListPatterns(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM merchant_patterns`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "raw_pattern", "clean_name", "category_id", "priority"}).
			AddRow(uuid.New(), &userID, "AMAZON", "Amazon (business)", (*uuid.UUID)(nil), 10).
			AddRow(uuid.New(), (*uuid.UUID)(nil), "AMAZON", "Amazon", (*uuid.UUID)(nil), 0))

	patterns, err := repo.ListPatterns(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "Amazon (business)", patterns[0].CleanName)
	require.NotNil(t, patterns[0].UserID)
	assert.Nil(t, patterns[1].UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreatePattern(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO merchant_patterns`).
		WithArgs(&userID, "HBO", "HBO", (*uuid.UUID)(nil), 0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))

	p := &Pattern{UserID: &userID, RawPattern: "HBO", CleanName: "HBO"}
	require.NoError(t, repo.CreatePattern(context.Background(), p))
	assert.Equal(t, id, p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_TagTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	txID, categoryID := uuid.New(), uuid.New()
	clean := "Starbucks"

	mock.ExpectExec(`UPDATE transactions`).
		WithArgs(txID, &clean, &categoryID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.TagTransaction(context.Background(), txID, &clean, &categoryID))
	require.NoError(t, mock.ExpectationsWereMet())
}
