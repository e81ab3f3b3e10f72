package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "two digit week", input: "2025CW_30"},
		{name: "one digit week", input: "2025CW_9"},
		{name: "zero padded", input: "2025CW_09"},
		{name: "three digit week", input: "2025CW_100", wantErr: true},
		{name: "short year", input: "25CW_30", wantErr: true},
		{name: "lowercase marker", input: "2025cw_30", wantErr: true},
		{name: "missing underscore", input: "2025CW30", wantErr: true},
		{name: "trailing text", input: "2025CW_30x", wantErr: true},
		{name: "path traversal", input: "../2025CW_30", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			week, err := ParseWeekID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidWeekID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, week.String())
		})
	}
}

func TestWeekIDParts(t *testing.T) {
	week := WeekID("2024CW_07")
	assert.Equal(t, 2024, week.Year())
	assert.Equal(t, 7, week.Number())

	bad := WeekID("holiday")
	assert.Zero(t, bad.Year())
	assert.Zero(t, bad.Number())
}

func TestSortWeeks_NumericOrder(t *testing.T) {
	weeks := []WeekID{"2025CW_9", "2025CW_10", "2025CW_2"}
	SortWeeks(weeks)
	assert.Equal(t, []WeekID{"2025CW_2", "2025CW_9", "2025CW_10"}, weeks)
}

func TestSortWeeks_AcrossYears(t *testing.T) {
	weeks := []WeekID{"2025CW_1", "2024CW_52", "2025CW_01", "2023CW_10"}
	SortWeeks(weeks)
	assert.Equal(t, []WeekID{"2023CW_10", "2024CW_52", "2025CW_01", "2025CW_1"}, weeks)
}
