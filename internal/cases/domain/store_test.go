package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCaseStore_Allocate(t *testing.T) {
	tests := []struct {
		name        string
		owner       string
		description string
		bounty      uint64
		wantErr     error
	}{
		{name: "valid", owner: "alice", description: "black cat", bounty: unit},
		{name: "exactly minimum", owner: "alice", description: "black cat", bounty: unit / 10},
		{name: "empty owner", owner: "", description: "black cat", bounty: unit, wantErr: ErrInvalidInput},
		{name: "blank description", owner: "alice", description: "   ", bounty: unit, wantErr: ErrInvalidInput},
		{name: "below minimum", owner: "alice", description: "black cat", bounty: unit/10 - 1, wantErr: ErrInvalidInput},
		{name: "zero bounty", owner: "alice", description: "black cat", bounty: 0, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCaseStore(testRules())
			id, err := s.Allocate(tt.owner, tt.description, tt.bounty, t0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, uint64(0), s.TotalCases())
				assert.Equal(t, uint64(0), s.TotalEscrow())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(0), id)

			c, err := s.Get(id)
			require.NoError(t, err)
			assert.Equal(t, StatusActive, c.Status)
			assert.Equal(t, tt.bounty, c.Bounty)
			assert.Equal(t, t0.Add(testRules().DefaultExpiryPeriod), c.ExpiresAt)
			assert.Equal(t, tt.bounty, s.TotalEscrow())
		})
	}
}

func TestCaseStore_IDsAreSequential(t *testing.T) {
	s := NewCaseStore(testRules())
	for want := uint64(0); want < 5; want++ {
		assert.Equal(t, want, s.NextID())
		id, err := s.Allocate("alice", "dog", unit, t0)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.Equal(t, uint64(5), s.TotalCases())
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, s.CasesByOwner("alice"))
	assert.Empty(t, s.CasesByOwner("bob"))
}

func TestCaseStore_GetUnknown(t *testing.T) {
	s := NewCaseStore(testRules())
	_, err := s.Get(0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CaseEscrow(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCaseStore_AddBounty(t *testing.T) {
	s := NewCaseStore(testRules())
	id, err := s.Allocate("alice", "dog", unit, t0)
	require.NoError(t, err)

	require.NoError(t, s.AddBounty(id, 2*unit))
	c, _ := s.Get(id)
	assert.Equal(t, 3*unit, c.Bounty)
	assert.Equal(t, 3*unit, s.TotalEscrow())

	assert.ErrorIs(t, s.AddBounty(id, 0), ErrInvalidInput)
	assert.ErrorIs(t, s.AddBounty(id, math.MaxUint64), ErrOverflow)

	_, err = s.Transition(id, StatusCancelled)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddBounty(id, unit), ErrInvalidState)
}

func TestCaseStore_Finders(t *testing.T) {
	s := NewCaseStore(testRules())
	id, err := s.Allocate("alice", "dog", unit, t0)
	require.NoError(t, err)

	require.NoError(t, s.AppendFinder(id, "bob", "seen at the park", t0))
	require.NoError(t, s.AppendFinder(id, "carol", "he is in my yard", t0.Add(time.Minute)))

	t.Run("duplicate submission", func(t *testing.T) {
		err := s.AppendFinder(id, "bob", "again", t0)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
		n, _ := s.FinderCount(id)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate checked before evidence", func(t *testing.T) {
		assert.ErrorIs(t, s.AppendFinder(id, "bob", "", t0), ErrAlreadySubmitted)
	})

	t.Run("empty evidence", func(t *testing.T) {
		assert.ErrorIs(t, s.AppendFinder(id, "dave", " ", t0), ErrInvalidInput)
	})

	t.Run("index access", func(t *testing.T) {
		acct, err := s.FinderAt(id, 1)
		require.NoError(t, err)
		assert.Equal(t, "carol", acct)

		_, err = s.FinderAt(id, 2)
		assert.ErrorIs(t, err, ErrInvalidIndex)
		_, err = s.FinderAt(id, -1)
		assert.ErrorIs(t, err, ErrInvalidIndex)
	})

	t.Run("lookup", func(t *testing.T) {
		f, ok, err := s.LookupFinder(id, "carol")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "he is in my yard", f.Evidence)

		_, ok, err = s.LookupFinder(id, "zed")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCaseStore_FinderSlice(t *testing.T) {
	s := NewCaseStore(testRules())
	id, err := s.Allocate("alice", "dog", unit, t0)
	require.NoError(t, err)
	for _, acct := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendFinder(id, acct, "evidence", t0))
	}

	tests := []struct {
		name    string
		start   int
		count   int
		want    []string
		wantErr error
	}{
		{name: "first page", start: 0, count: 2, want: []string{"a", "b"}},
		{name: "tail clipped", start: 2, count: 5, want: []string{"c"}},
		{name: "start past end", start: 100, count: 5, want: []string{}},
		{name: "zero count", start: 0, count: 0, want: []string{}},
		{name: "negative start", start: -1, count: 1, wantErr: ErrInvalidIndex},
		{name: "negative count", start: 0, count: -1, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.FinderSlice(id, tt.start, tt.count)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, page)
			assert.Equal(t, tt.want, accounts(page))
		})
	}
}

func TestCaseStore_Transitions(t *testing.T) {
	s := NewCaseStore(testRules())
	id, err := s.Allocate("alice", "dog", 2*unit, t0)
	require.NoError(t, err)

	t.Run("abort keeps committed state", func(t *testing.T) {
		amount, err := s.BeginTransition(id, StatusResolved)
		require.NoError(t, err)
		assert.Equal(t, 2*unit, amount)

		c, _ := s.Get(id)
		assert.Equal(t, StatusActive, c.Status)
		_, err = s.BeginTransition(id, StatusCancelled)
		assert.ErrorIs(t, err, ErrInvalidState)

		s.AbortTransition(id)
		c, _ = s.Get(id)
		assert.Equal(t, StatusActive, c.Status)
		assert.Equal(t, 2*unit, c.Bounty)
		assert.Equal(t, 2*unit, s.TotalEscrow())
	})

	t.Run("pending blocks bounty increase", func(t *testing.T) {
		_, err := s.BeginTransition(id, StatusExpired)
		require.NoError(t, err)
		assert.ErrorIs(t, s.AddBounty(id, unit), ErrInvalidState)
		s.AbortTransition(id)
	})

	t.Run("commit zeroes bounty", func(t *testing.T) {
		_, err := s.BeginTransition(id, StatusResolved)
		require.NoError(t, err)
		require.NoError(t, s.CommitTransition(id))

		c, _ := s.Get(id)
		assert.Equal(t, StatusResolved, c.Status)
		assert.Zero(t, c.Bounty)
		assert.Zero(t, s.TotalEscrow())
		escrow, err := s.CaseEscrow(id)
		require.NoError(t, err)
		assert.Zero(t, escrow)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		for _, to := range []Status{StatusActive, StatusResolved, StatusCancelled, StatusExpired} {
			_, err := s.Transition(id, to)
			assert.ErrorIs(t, err, ErrInvalidState, "to %s", to)
		}
	})

	t.Run("commit without begin", func(t *testing.T) {
		assert.ErrorIs(t, s.CommitTransition(id), ErrInvalidState)
	})
}

func TestCaseStore_ActiveAndDue(t *testing.T) {
	s := NewCaseStore(testRules())
	period := testRules().DefaultExpiryPeriod

	a, _ := s.Allocate("alice", "dog", unit, t0)
	b, _ := s.Allocate("bob", "cat", unit, t0.Add(time.Hour))
	c, _ := s.Allocate("alice", "parrot", unit, t0)
	_, err := s.Transition(c, StatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, []uint64{a, b}, s.ActiveCases(t0))
	assert.Empty(t, s.DueForExpiry(t0))

	// a expires exactly at its deadline.
	at := t0.Add(period)
	assert.Equal(t, []uint64{b}, s.ActiveCases(at))
	assert.Equal(t, []uint64{a}, s.DueForExpiry(at))

	st := s.Stats()
	assert.Equal(t, Stats{TotalCases: 3, ActiveCases: 2, TotalEscrow: 2 * unit}, st)
}

func TestStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, StatusActive.CanTransitionTo(StatusResolved))
	assert.True(t, StatusActive.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusActive.CanTransitionTo(StatusExpired))
	assert.False(t, StatusActive.CanTransitionTo(StatusActive))
	assert.False(t, StatusExpired.CanTransitionTo(StatusResolved))
	assert.True(t, StatusResolved.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
}
