package msms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/nacorr/internal/isotope"
	"github.com/524D/nacorr/internal/multiquant"
)

// Triose phosphate transitions: DHAP 169->97 with its M+1 parent, 2PG
// 185->79 likewise. Daughter fragments carry no carbon, so only the
// parent's natural abundance enters the correction.
func trioseRows() []multiquant.Measurement {
	row := func(name, frag, form, parent, label, sample string, intensity float64) multiquant.Measurement {
		return multiquant.Measurement{
			Name: name, Fragment: frag, Formula: form, ParentFormula: parent,
			Label: label, Sample: sample, Intensity: intensity,
		}
	}
	return []multiquant.Measurement{
		row("DHAP 169/97", "DHAP 169/97", "H2O4P", "C3H6O6P", "C13_169.0_97.0", "s1", 51670),
		row("DHAP 169/97", "DHAP 169/97", "H2O4P", "C3H6O6P", "C13_169.0_97.0", "s17", 52360),
		row("DHAP 169/97", "DHAP 169/97", "H2O4P", "C3H6O6P", "C13_169.0_97.0", "s33", 52540),
		row("DHAP 169/97", "DHAP 170/97", "H2O4P", "C3H6O6P", "C13_170.0_97.0", "s1", 1292.67),
		row("DHAP 169/97", "DHAP 170/97", "H2O4P", "C3H6O6P", "C13_170.0_97.0", "s17", 901.67),
		row("DHAP 169/97", "DHAP 170/97", "H2O4P", "C3H6O6P", "C13_170.0_97.0", "s33", 1292.67),
		row("2PG 185/79", "2PG 185/79", "O3P", "C3H6O7P", "C13_185.0_79.0", "s1", 59690),
		row("2PG 185/79", "2PG 185/79", "O3P", "C3H6O7P", "C13_185.0_79.0", "s17", 59950),
		row("2PG 185/79", "2PG 185/79", "O3P", "C3H6O7P", "C13_185.0_79.0", "s33", 57200),
		row("2PG 185/79", "2PG 186/79", "O3P", "C3H6O7P", "C13_186.0_79.0", "s1", 1969.77),
		row("2PG 185/79", "2PG 186/79", "O3P", "C3H6O7P", "C13_186.0_79.0", "s17", 747.77),
		row("2PG 185/79", "2PG 186/79", "O3P", "C3H6O7P", "C13_186.0_79.0", "s33", 661.77),
	}
}

func TestCorrectNATriose(t *testing.T) {
	out, err := Correct(trioseRows(), Config{Decimals: -1}, isotope.DefaultTable())
	require.NoError(t, err)
	want := []float64{
		53390.611, 54103.588, 54289.582,
		-399.243726, -821.900926, -428.214726,
		61677.677, 61946.335, 59104.76,
		25.821894, -1231.964506, -1228.298706,
	}
	require.Len(t, out, len(want))
	for i, w := range want {
		assert.InDelta(t, w, out[i].NACorrected, 1e-6, "row %d", i)
	}
}

func TestCorrectNARounds(t *testing.T) {
	out, err := Correct(trioseRows(), Config{Decimals: 2}, isotope.DefaultTable())
	require.NoError(t, err)
	assert.Equal(t, 53390.61, out[0].NACorrected)
	assert.Equal(t, -399.24, out[3].NACorrected)
}

func TestRecurrenceZeroNA(t *testing.T) {
	// Without natural abundance the correction is the identity, for
	// any neighbor intensities.
	assert.Equal(t, 1292.67, Recurrence(0, 3, 0, 1, 0, 1292.67, 51670, 123.4))
	assert.Equal(t, 0.0, Recurrence(0, 5, 2, 3, 1, 0, 99, 99))
}

func TestNoise(t *testing.T) {
	// One of one labeled parent atom, daughter unlabeled: a single
	// position must carry a natural heavy atom.
	assert.InDelta(t, 11.1, Noise(1000, 0.0111, 1, 1, 0, 0), 1e-12)
	// Two positions in the neutral loss can mimic one label.
	assert.InDelta(t, 22.2, Noise(1000, 0.0111, 2, 1, 0, 0), 1e-12)
	// More labels than atoms cannot occur naturally.
	assert.Equal(t, 0.0, Noise(1000, 0.0111, 1, 2, 0, 0))
}

func TestSubtract(t *testing.T) {
	assert.Equal(t, 40.0, Subtract(50, 10))
	assert.Equal(t, 50.0, Subtract(50, 0))
	assert.Equal(t, 0.0, Subtract(10, 50))
}

// Glycolate-like pair: parent C2H4O4 (MW 92.05), daughter CH2O2 (MW
// 46.03), so the unlabeled transition is 92->46 and M+1 is 93->46.
func glycolateRows(unlabeled, labeled map[string]float64) []multiquant.Measurement {
	var out []multiquant.Measurement
	for _, s := range []string{"b1", "s1", "s2"} {
		out = append(out, multiquant.Measurement{
			Name: "Gly 92/46", Fragment: "Gly 92/46", Formula: "CH2O2", ParentFormula: "C2H4O4",
			Label: "C13_92.0_46.0", Sample: s, Intensity: unlabeled[s],
		})
	}
	for _, s := range []string{"b1", "s1", "s2"} {
		out = append(out, multiquant.Measurement{
			Name: "Gly 92/46", Fragment: "Gly 93/46", Formula: "CH2O2", ParentFormula: "C2H4O4",
			Label: "C13_93.0_46.0", Sample: s, Intensity: labeled[s],
		})
	}
	return out
}

func TestSubtractBackground(t *testing.T) {
	rows := glycolateRows(
		map[string]float64{"b1": 900, "s1": 1000, "s2": 1100},
		map[string]float64{"b1": 40, "s1": 50, "s2": 60},
	)
	groups := [][]string{{"b1"}}
	backgroundOf := map[string]string{"b1": "b1", "s1": "b1", "s2": "b1"}

	out, err := SubtractBackground(rows, groups, backgroundOf, isotope.DefaultTable())
	require.NoError(t, err)

	// The unlabeled reference fragment passes through.
	for i := 0; i < 3; i++ {
		assert.Equal(t, rows[i].Intensity, out[i].BackgroundCorrected, "row %d", i)
	}
	// Background at b1: noise = 900*0.0111*C(1,1)*C(1,0) = 9.99, the
	// group estimate is 40-9.99 = 30.01, subtracted everywhere.
	assert.InDelta(t, 40-30.01, out[3].BackgroundCorrected, 1e-9)
	assert.InDelta(t, 50-30.01, out[4].BackgroundCorrected, 1e-9)
	assert.InDelta(t, 60-30.01, out[5].BackgroundCorrected, 1e-9)
}

func TestSubtractBackgroundTakesGroupMaximum(t *testing.T) {
	rows := glycolateRows(
		map[string]float64{"b1": 900, "s1": 1000, "s2": 1100},
		map[string]float64{"b1": 40, "s1": 50, "s2": 60},
	)
	// Two background replicates: b1 yields 40-9.99 = 30.01, s1 yields
	// 50-11.1 = 38.9. The worst case wins for the whole group.
	groups := [][]string{{"b1", "s1"}}
	backgroundOf := map[string]string{"b1": "b1", "s1": "s1", "s2": "b1"}

	out, err := SubtractBackground(rows, groups, backgroundOf, isotope.DefaultTable())
	require.NoError(t, err)
	assert.InDelta(t, 40-38.9, out[3].BackgroundCorrected, 1e-9)
	assert.InDelta(t, 50-38.9, out[4].BackgroundCorrected, 1e-9)
	assert.InDelta(t, 60-38.9, out[5].BackgroundCorrected, 1e-9)
}

func TestSubtractBackgroundNeedsOneUnlabeledFragment(t *testing.T) {
	groups := [][]string{{"s1"}}
	backgroundOf := map[string]string{"s1": "s1"}
	tab := isotope.DefaultTable()

	// No unlabeled fragment at all.
	rows := []multiquant.Measurement{{
		Name: "X", Fragment: "X 93/46", Formula: "CH2O2", ParentFormula: "C2H4O4",
		Label: "C13_93.0_46.0", Sample: "s1", Intensity: 10,
	}}
	_, err := SubtractBackground(rows, groups, backgroundOf, tab)
	assert.ErrorIs(t, err, ErrUnlabeledFragment)

	// Two distinct fragments with zero labeled parent atoms.
	rows = []multiquant.Measurement{
		{Name: "X", Fragment: "X 92/46", Formula: "CH2O2", ParentFormula: "C2H4O4",
			Label: "C13_92.0_46.0", Sample: "s1", Intensity: 10},
		{Name: "X", Fragment: "X 92/45", Formula: "CH2O2", ParentFormula: "C2H4O4",
			Label: "C13_92.0_45.0", Sample: "s1", Intensity: 10},
	}
	_, err = SubtractBackground(rows, groups, backgroundOf, tab)
	assert.ErrorIs(t, err, ErrUnlabeledFragment)
}

func TestCorrectRejectsMixedTracers(t *testing.T) {
	rows := []multiquant.Measurement{
		{Name: "X", Fragment: "X 92/46", Formula: "CH2O2", ParentFormula: "C2H4O4",
			Label: "C13_92.0_46.0", Sample: "s1", Intensity: 10},
		{Name: "X", Fragment: "X 94/46", Formula: "CH2O2", ParentFormula: "C2H4O4",
			Label: "N15_94.0_46.0", Sample: "s1", Intensity: 10},
	}
	_, err := Correct(rows, Config{Decimals: 2}, isotope.DefaultTable())
	assert.ErrorIs(t, err, ErrMixedTracers)
}

func TestCorrectWithBackgroundPipeline(t *testing.T) {
	rows := glycolateRows(
		map[string]float64{"b1": 900, "s1": 1000, "s2": 1100},
		map[string]float64{"b1": 40, "s1": 50, "s2": 60},
	)
	cfg := Config{
		Decimals:        -1,
		ReplicateGroups: [][]string{{"b1"}},
		BackgroundOf:    map[string]string{"b1": "b1", "s1": "b1", "s2": "b1"},
	}
	out, err := Correct(rows, cfg, isotope.DefaultTable())
	require.NoError(t, err)

	// The recurrence runs on the zero-clipped background corrected
	// column. For the M+1 transition of s1 (p=2, d=1, m=1, n=0):
	// A = 1+na, B = na*((2-1)-(1-0-1)) = na, C = na*(1-(0-1)) = 2na.
	na := 0.0111
	bg1 := 50 - 30.01   // M+1 at s1 after background
	bg0 := 1000.0       // unlabeled at s1 passes through
	want := (1+na)*bg1 - na*bg0 - 2*na*0
	assert.InDelta(t, want, out[4].NACorrected, 1e-9)
}
