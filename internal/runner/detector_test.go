package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/county-risk/risk-engine/internal/model"
)

func seedAssessed(st *mockStore, year int, counties ...string) {
	for _, c := range counties {
		st.assessments[unitKey{c, year}] = model.Assessment{CountyCode: c, Year: year}
	}
}

func TestDetector_YearsNeedingComputation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(st *mockStore)
		want  []int
	}{
		{
			name: "missing and partial years",
			setup: func(st *mockStore) {
				st.sourceYears = []int{2020, 2021, 2022}
				seedAssessed(st, 2020, "A", "B")
				seedAssessed(st, 2021, "A")
			},
			want: []int{2021, 2022},
		},
		{
			name: "full coverage recomputes everything",
			setup: func(st *mockStore) {
				st.sourceYears = []int{2020, 2021}
				seedAssessed(st, 2020, "A", "B")
				seedAssessed(st, 2021, "A", "B")
			},
			want: []int{2020, 2021, 2022},
		},
		{
			name: "source years outside the range are ignored",
			setup: func(st *mockStore) {
				st.sourceYears = []int{2015, 2021, 2030}
				seedAssessed(st, 2021, "A", "B")
			},
			want: []int{2020, 2021, 2022},
		},
		{
			name: "unsorted duplicate source years",
			setup: func(st *mockStore) {
				st.sourceYears = []int{2022, 2020, 2022}
			},
			want: []int{2020, 2022},
		},
		{
			name: "inventory error falls back to the full range",
			setup: func(st *mockStore) {
				st.sourceYears = []int{2021}
				st.inventoryErr = errors.New("metadata unavailable")
			},
			want: []int{2020, 2021, 2022},
		},
		{
			name: "count error falls back to the full range",
			setup: func(st *mockStore) {
				st.sourceYears = []int{2021}
				st.countErr = errors.New("count failed")
			},
			want: []int{2020, 2021, 2022},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMockStore("A", "B")
			tt.setup(st)
			got := NewDetector(st).YearsNeedingComputation(context.Background(), 2020, 2022)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestYearRange(t *testing.T) {
	assert.Equal(t, []int{2000, 2001, 2002}, yearRange(2000, 2002))
	assert.Equal(t, []int{2005}, yearRange(2005, 2005))
	assert.Nil(t, yearRange(2010, 2009))
}
