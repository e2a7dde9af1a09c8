package storage

import (
	"context"
	"testing"
	"time"

	"gastos/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RepositoryTestSuite struct {
	suite.Suite
	repo *SQLiteRepository
	ctx  context.Context

	ana   *core.User
	bruno *core.User
}

func (s *RepositoryTestSuite) SetupTest() {
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(s.T(), err, "failed to create test database")
	s.repo = repo
	s.ctx = context.Background()

	s.ana, err = repo.CreateUser(s.ctx, "Ana", "ana@example.com", "", "")
	require.NoError(s.T(), err)
	s.bruno, err = repo.CreateUser(s.ctx, "Bruno", "bruno@example.com", "", "")
	require.NoError(s.T(), err)
}

func (s *RepositoryTestSuite) TearDownTest() {
	if s.repo != nil {
		s.repo.Close()
	}
}

func (s *RepositoryTestSuite) date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func (s *RepositoryTestSuite) saveDinner() int64 {
	id, err := s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
		Concept: "Dinner",
		Date:    s.date(1),
		Contributions: []core.ContributionInput{
			{UserID: s.ana.ID, Amount: core.Money{Cents: 1050}},
		},
		Shares: []core.ShareInput{
			{UserID: s.bruno.ID, Proportion: 1.0},
		},
	})
	require.NoError(s.T(), err)
	return id
}

func (s *RepositoryTestSuite) TestSaveAndGetExpense() {
	id := s.saveDinner()

	e, err := s.repo.GetExpense(s.ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Dinner", e.Concept)
	assert.Equal(s.T(), int64(1050), e.Total().Cents)
	assert.Equal(s.T(), "Ana", e.PayerNames())
	assert.Equal(s.T(), "Bruno", e.BeneficiaryNames())
}

func (s *RepositoryTestSuite) TestSaveExpenseRejectsInvalid() {
	_, err := s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
		Concept: "Bad",
		Date:    s.date(1),
		Contributions: []core.ContributionInput{
			{UserID: s.ana.ID, Amount: core.Money{Cents: 0}},
		},
	})
	require.ErrorIs(s.T(), err, core.ErrInvalidAmount)

	// Nothing was persisted.
	expenses, err := s.repo.ListExpenses(s.ctx)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), expenses)
}

func (s *RepositoryTestSuite) TestSaveExpenseUnknownUserRollsBack() {
	_, err := s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
		Concept: "Ghost",
		Date:    s.date(1),
		Contributions: []core.ContributionInput{
			{UserID: s.ana.ID, Amount: core.Money{Cents: 100}},
			{UserID: 9999, Amount: core.Money{Cents: 100}},
		},
	})
	require.ErrorIs(s.T(), err, core.ErrNotFound)

	expenses, err := s.repo.ListExpenses(s.ctx)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), expenses, "failed save must not leave a partial expense")
}

func (s *RepositoryTestSuite) TestUpdateExpenseInPlace() {
	id := s.saveDinner()

	// Change the concept, move the contribution to Bruno, drop the share.
	_, err := s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
		ID:      id,
		Concept: "Lunch",
		Date:    s.date(2),
		Contributions: []core.ContributionInput{
			{UserID: s.bruno.ID, Amount: core.Money{Cents: 2000}},
		},
	})
	require.NoError(s.T(), err)

	e, err := s.repo.GetExpense(s.ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Lunch", e.Concept)
	assert.Equal(s.T(), int64(2000), e.Total().Cents)
	assert.Equal(s.T(), "Bruno", e.PayerNames())
	assert.Empty(s.T(), e.Shares, "stale share rows must be pruned")
	assert.Len(s.T(), e.Contributions, 1, "stale contribution rows must be pruned")
}

func (s *RepositoryTestSuite) TestUpdateMissingExpense() {
	_, err := s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
		ID:      12345,
		Concept: "Nope",
		Date:    s.date(1),
	})
	assert.ErrorIs(s.T(), err, core.ErrNotFound)
}

func (s *RepositoryTestSuite) TestDeleteExpenseCascades() {
	id := s.saveDinner()

	require.NoError(s.T(), s.repo.DeleteExpense(s.ctx, id))

	_, err := s.repo.GetExpense(s.ctx, id)
	assert.ErrorIs(s.T(), err, core.ErrNotFound)

	// Children are gone: the figures carry no amounts for anyone.
	figures, err := s.repo.UserFigures(s.ctx, id)
	require.NoError(s.T(), err)
	for _, f := range figures {
		assert.Nil(s.T(), f.Amount)
		assert.Nil(s.T(), f.Proportion)
	}

	assert.ErrorIs(s.T(), s.repo.DeleteExpense(s.ctx, id), core.ErrNotFound)
}

func (s *RepositoryTestSuite) TestDeleteUserRestricted() {
	s.saveDinner()

	err := s.repo.DeleteUser(s.ctx, s.ana.ID)
	assert.ErrorIs(s.T(), err, core.ErrUserInUse, "payer cannot be deleted")
	err = s.repo.DeleteUser(s.ctx, s.bruno.ID)
	assert.ErrorIs(s.T(), err, core.ErrUserInUse, "beneficiary cannot be deleted")

	carla, err := s.repo.CreateUser(s.ctx, "Carla", "carla@example.com", "", "")
	require.NoError(s.T(), err)
	assert.NoError(s.T(), s.repo.DeleteUser(s.ctx, carla.ID))
}

func (s *RepositoryTestSuite) TestListExpensesOrderedByDateDesc() {
	days := []int{3, 1, 2}
	for _, d := range days {
		_, err := s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
			Concept: "Day",
			Date:    s.date(d),
			Contributions: []core.ContributionInput{
				{UserID: s.ana.ID, Amount: core.Money{Cents: 100}},
			},
		})
		require.NoError(s.T(), err)
	}

	expenses, err := s.repo.ListExpenses(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), expenses, 3)
	for i := 1; i < len(expenses); i++ {
		assert.False(s.T(), expenses[i-1].Date.Before(expenses[i].Date),
			"expenses must be ordered by date descending")
	}
}

func (s *RepositoryTestSuite) TestUserFigures() {
	id := s.saveDinner()

	figures, err := s.repo.UserFigures(s.ctx, id)
	require.NoError(s.T(), err)
	require.Len(s.T(), figures, 2)

	byName := map[string]core.UserFigure{}
	for _, f := range figures {
		byName[f.Name] = f
	}
	require.NotNil(s.T(), byName["Ana"].Amount)
	assert.Equal(s.T(), int64(1050), byName["Ana"].Amount.Cents)
	assert.Nil(s.T(), byName["Ana"].Proportion)
	require.NotNil(s.T(), byName["Bruno"].Proportion)
	assert.Equal(s.T(), 1.0, *byName["Bruno"].Proportion)
	assert.Nil(s.T(), byName["Bruno"].Amount)
}

func (s *RepositoryTestSuite) TestTomaSortedPairInvariant() {
	a1, err := s.repo.Toma(s.ctx, s.ana.ID, s.bruno.ID, core.Money{Cents: 500})
	require.NoError(s.T(), err)
	a2, err := s.repo.Toma(s.ctx, s.bruno.ID, s.ana.ID, core.Money{Cents: 300})
	require.NoError(s.T(), err)

	assert.Equal(s.T(), a1.ID, a2.ID, "both argument orders must resolve to the same account")
	assert.Equal(s.T(), int64(800), a2.Balance.Cents)

	got, err := s.repo.GetAccount(s.ctx, s.bruno.ID, s.ana.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(800), got.Balance.Cents)

	_, err = s.repo.Toma(s.ctx, s.ana.ID, s.ana.ID, core.Money{Cents: 100})
	assert.ErrorIs(s.T(), err, core.ErrSameUser)
}

func (s *RepositoryTestSuite) TestSessions() {
	token := "test-token"
	require.NoError(s.T(), s.repo.CreateSession(s.ctx, token, s.ana.ID, time.Now().Add(time.Hour)))

	u, err := s.repo.GetSessionUser(s.ctx, token)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), s.ana.ID, u.ID)

	require.NoError(s.T(), s.repo.DeleteSession(s.ctx, token))
	_, err = s.repo.GetSessionUser(s.ctx, token)
	assert.ErrorIs(s.T(), err, core.ErrNotFound)
}

func (s *RepositoryTestSuite) TestExpiredSessions() {
	require.NoError(s.T(), s.repo.CreateSession(s.ctx, "stale", s.ana.ID, time.Now().Add(-time.Minute)))

	_, err := s.repo.GetSessionUser(s.ctx, "stale")
	assert.ErrorIs(s.T(), err, core.ErrNotFound)

	n, err := s.repo.SweepExpiredSessions(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), n)
}

func (s *RepositoryTestSuite) TestSyncBookkeeping() {
	id := s.saveDinner()

	pending, err := s.repo.GetPendingSyncExpenses(s.ctx, 10)
	require.NoError(s.T(), err)
	require.Len(s.T(), pending, 1)
	assert.Equal(s.T(), id, pending[0].ID)
	assert.False(s.T(), pending[0].EverSynced)

	require.NoError(s.T(), s.repo.MarkSynced(s.ctx, id))
	pending, err = s.repo.GetPendingSyncExpenses(s.ctx, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), pending)

	// Editing puts the expense back in the export queue, now flagged
	// as already journaled once.
	_, err = s.repo.SaveExpense(s.ctx, core.ExpenseDraft{
		ID: id, Concept: "Dinner 2", Date: s.date(1),
		Contributions: []core.ContributionInput{
			{UserID: s.ana.ID, Amount: core.Money{Cents: 1050}},
		},
	})
	require.NoError(s.T(), err)
	pending, err = s.repo.GetPendingSyncExpenses(s.ctx, 10)
	require.NoError(s.T(), err)
	require.Len(s.T(), pending, 1)
	assert.Equal(s.T(), id, pending[0].ID)
	assert.True(s.T(), pending[0].EverSynced)
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}
