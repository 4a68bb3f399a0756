package credit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela/credit-engine/credit"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonthsClamped_ClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		n     int
		want  time.Time
	}{
		{"plain step", date(2024, time.March, 15), 1, date(2024, time.April, 15)},
		{"jan 31 clamps to feb 29 in leap year", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"jan 31 clamps to feb 28 otherwise", date(2023, time.January, 31), 1, date(2023, time.February, 28)},
		{"anchor does not drift through february", date(2024, time.January, 31), 2, date(2024, time.March, 31)},
		{"year rollover", date(2024, time.November, 30), 3, date(2025, time.February, 28)},
		{"zero months is identity at day granularity", date(2024, time.June, 10), 0, date(2024, time.June, 10)},
		{"negative step", date(2024, time.March, 31), -1, date(2024, time.February, 29)},
		{"negative step across year", date(2024, time.January, 15), -2, date(2023, time.November, 15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := credit.AddMonthsClamped(tt.start, tt.n)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestMonthsElapsed(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{"same month", date(2024, time.May, 1), date(2024, time.May, 28), 0},
		{"one month", date(2024, time.May, 1), date(2024, time.June, 1), 1},
		{"partial months count by calendar month", date(2024, time.May, 31), date(2024, time.June, 1), 1},
		{"across years", date(2023, time.November, 10), date(2024, time.February, 10), 3},
		{"negative clamps to zero", date(2024, time.June, 1), date(2024, time.May, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, credit.MonthsElapsed(tt.from, tt.to))
		})
	}
}

func TestGraceEnd_RecomputedFromSaleDate(t *testing.T) {
	// GIVEN: A sale on Jan 31 with a 1-month grace period
	// THEN: Grace ends on the clamped Feb 29
	end := credit.GraceEnd(date(2024, time.January, 31), 1)
	assert.True(t, end.Equal(date(2024, time.February, 29)))

	// Zero months: grace ends on the sale date itself.
	end = credit.GraceEnd(date(2024, time.January, 1), 0)
	assert.True(t, end.Equal(date(2024, time.January, 1)))
}

func TestCheckpoints_InclusiveBoundary(t *testing.T) {
	// GIVEN: Grace ended 2024-01-01 (sale 2024-01-01, no grace)
	// WHEN: Walking up to 2024-04-02
	// THEN: Four checkpoints - the day after grace end, then monthly,
	//       including one exactly on the boundary.
	cps := credit.Checkpoints(date(2024, time.January, 1), date(2024, time.April, 2))
	require.Len(t, cps, 4)
	assert.True(t, cps[0].Equal(date(2024, time.January, 2)))
	assert.True(t, cps[1].Equal(date(2024, time.February, 2)))
	assert.True(t, cps[2].Equal(date(2024, time.March, 2)))
	assert.True(t, cps[3].Equal(date(2024, time.April, 2)))
}

func TestCheckpoints_BeforeFirstCheckpointIsEmpty(t *testing.T) {
	// Boundary lands on the grace end itself: nothing is due yet.
	cps := credit.Checkpoints(date(2024, time.March, 1), date(2024, time.March, 1))
	assert.Empty(t, cps)
}

func TestCheckpoints_MonthEndAnchor(t *testing.T) {
	// GIVEN: Grace ending Jan 30, so the anchor day is the 31st
	// THEN: The sequence clamps through February and returns to the 31st
	//       in March, instead of drifting to the 28th.
	cps := credit.Checkpoints(date(2024, time.January, 30), date(2024, time.April, 1))
	require.Len(t, cps, 3)
	assert.True(t, cps[0].Equal(date(2024, time.January, 31)))
	assert.True(t, cps[1].Equal(date(2024, time.February, 29)))
	assert.True(t, cps[2].Equal(date(2024, time.March, 31)))
}

func TestDayHelpers(t *testing.T) {
	noon := time.Date(2024, time.July, 4, 12, 30, 0, 0, time.UTC)
	assert.True(t, credit.Day(noon).Equal(date(2024, time.July, 4)))
	assert.True(t, credit.NextDay(noon).Equal(date(2024, time.July, 5)))
	assert.True(t, credit.SameDay(noon, date(2024, time.July, 4)))
	assert.False(t, credit.SameDay(noon, date(2024, time.July, 5)))
}
