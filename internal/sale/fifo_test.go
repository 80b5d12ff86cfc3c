package sale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myduka/backend/internal/domain"
)

func twoBatches() []domain.StockBatch {
	day1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return []domain.StockBatch{
		{ID: "b1", ProductID: "p", Quantity: 5, RestockedAt: day1},
		{ID: "b2", ProductID: "p", Quantity: 10, RestockedAt: day1.AddDate(0, 0, 1)},
	}
}

func TestPlanFIFO(t *testing.T) {
	cases := []struct {
		name string
		qty  int
		want []Depletion
	}{
		{
			name: "spans into second batch",
			qty:  7,
			want: []Depletion{
				{Kind: DepletionConsumed, BatchID: "b1", Taken: 5},
				{Kind: DepletionReduced, BatchID: "b2", Taken: 2, Remaining: 8},
			},
		},
		{
			name: "drains everything",
			qty:  15,
			want: []Depletion{
				{Kind: DepletionConsumed, BatchID: "b1", Taken: 5},
				{Kind: DepletionConsumed, BatchID: "b2", Taken: 10},
			},
		},
		{
			name: "oldest batch only",
			qty:  3,
			want: []Depletion{
				{Kind: DepletionReduced, BatchID: "b1", Taken: 3, Remaining: 2},
			},
		},
		{
			name: "exactly one batch",
			qty:  5,
			want: []Depletion{
				{Kind: DepletionConsumed, BatchID: "b1", Taken: 5},
			},
		},
		{
			name: "nothing requested",
			qty:  0,
			want: []Depletion{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := PlanFIFO(twoBatches(), tc.qty)
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan)
		})
	}
}

func TestPlanFIFOShortfallIsInvariantViolation(t *testing.T) {
	plan, err := PlanFIFO(twoBatches(), 16)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Nil(t, plan)

	_, err = PlanFIFO(nil, 1)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestPlanFIFORejectsNegativeQuantity(t *testing.T) {
	_, err := PlanFIFO(twoBatches(), -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestDepletionKindString(t *testing.T) {
	assert.Equal(t, "consumed", DepletionConsumed.String())
	assert.Equal(t, "reduced", DepletionReduced.String())
	assert.Equal(t, "unknown", DepletionKind(0).String())
}
