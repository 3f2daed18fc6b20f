package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.Len(t, c.CoBenefits, 11)
	assert.Len(t, c.Scenarios, 5)
	assert.Len(t, c.TimeWindows, 5)
	assert.Equal(t, []Nation{"England", "Wales", "Scotland", "NI"}, c.Nations)
	assert.Equal(t, CoBenefit("Air quality"), c.CoBenefits[0].ID)
	assert.Equal(t, "#71C35D", c.CoBenefits[0].Color)
}

func TestCoBenefit(t *testing.T) {
	c := Default()

	cb, err := c.CoBenefit("Noise")
	require.NoError(t, err)
	assert.Equal(t, CoBenefit("Noise"), cb)

	_, err = c.CoBenefit("Total")
	var unknown *UnknownIDError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "co-benefit", unknown.Kind)

	_, err = c.CoBenefit("Noise'; DROP TABLE cobenefits; --")
	assert.Error(t, err)
}

func TestCoBenefitList(t *testing.T) {
	c := Default()

	got, err := c.CoBenefitList([]string{"Dampness", "Air quality"})
	require.NoError(t, err)
	assert.Equal(t, []CoBenefit{"Dampness", "Air quality"}, got)

	_, err = c.CoBenefitList([]string{"Dampness", "Sunshine"})
	assert.Error(t, err)

	got, err = c.CoBenefitList(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScenarioTimeNation(t *testing.T) {
	c := Default()

	s, err := c.Scenario("BNZ")
	require.NoError(t, err)
	assert.Equal(t, Scenario("BNZ"), s)
	s, err = c.Scenario("")
	require.NoError(t, err)
	assert.Empty(t, s)
	_, err = c.Scenario("S6")
	assert.Error(t, err)

	tw, err := c.TimeWindow("")
	require.NoError(t, err)
	assert.Equal(t, TotalWindow, tw)
	tw, err = c.TimeWindow("Y2030_2034")
	require.NoError(t, err)
	assert.Equal(t, TimeWindow("Y2030_2034"), tw)
	_, err = c.TimeWindow("2030")
	assert.Error(t, err)

	for _, in := range []string{"", "UK", "All"} {
		n, err := c.Nation(in)
		require.NoError(t, err)
		assert.Equal(t, UK, n)
	}
	n, err := c.Nation("Wales")
	require.NoError(t, err)
	assert.Equal(t, Nation("Wales"), n)
	_, err = c.Nation("France")
	assert.Error(t, err)
}

func TestFactorKinds(t *testing.T) {
	c := Default()

	tests := []struct {
		id      string
		kind    FactorKind
		percent bool
		agg     Aggregate
	}{
		{"Under_35", Continuous, true, Mean},
		{"Over_65", Continuous, true, Mean},
		{"Unemployment", Continuous, true, Mean},
		{"EPC", Categorical, false, Mode},
		{"Tenure", Categorical, false, Mode},
		{"Typology", Categorical, false, Mode},
		{"Fuel_Type", Categorical, false, Mode},
		{"Gas_flag", Categorical, false, Mode},
		{"Number_cars", Categorical, false, Mode},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			f, err := c.Factor(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.percent, f.Percent)
			assert.Equal(t, tt.agg, f.Kind.Aggregation())
		})
	}

	_, err := c.Factor("Income")
	assert.Error(t, err)
}

func TestLevelLabel(t *testing.T) {
	f, err := Default().Factor("Tenure")
	require.NoError(t, err)

	l, ok := f.LevelLabel(2)
	assert.True(t, ok)
	assert.Equal(t, "Rented (social)", l)

	_, ok = f.LevelLabel(9)
	assert.False(t, ok)
}

func TestZoneCode(t *testing.T) {
	for _, ok := range []string{"E01000001", "S12000033", "N09000003", "95AA01S1"} {
		_, err := ZoneCode(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "E01' OR 1=1", "E0100000100000000001", "W06 000001"} {
		_, err := ZoneCode(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	_, err := Parse([]byte("co_benefits:\n  - id: Total\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("factors:\n  - id: \"bad column\"\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("factors:\n  - id: X\n    type: ordinal\n"))
	assert.Error(t, err)
}

func TestCoBenefitColumn(t *testing.T) {
	c := Default()

	cols := make(map[CoBenefit]string, len(c.CoBenefits))
	for _, d := range c.CoBenefits {
		cols[d.ID] = d.Column()
	}
	assert.Equal(t, "Hassle costs", cols["Longer travel times"])
	assert.Equal(t, "Air quality", cols["Air quality"])
}
