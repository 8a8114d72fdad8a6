package access

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStrict(t *testing.T) {
	n := NewNormalizer(true, nil)

	cases := []struct {
		raw       string
		canonical string
		format    PlateFormat
	}{
		{"ABC1234", "ABC1234", PlateLegacy},
		{"abc-1234", "ABC1234", PlateLegacy},
		{" ABC 1234 ", "ABC1234", PlateLegacy},
		{"ABC1D23", "ABC1D23", PlateMercosul},
		{"abc.1d.23", "ABC1D23", PlateMercosul},
		{"BRA2E19", "BRA2E19", PlateMercosul},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			read, err := n.Normalize(tc.raw)
			require.NoError(t, err)
			assert.True(t, read.Valid)
			assert.False(t, read.Corrected)
			assert.Equal(t, tc.canonical, read.Canonical)
			assert.Equal(t, tc.format, read.Format)
			assert.Equal(t, tc.raw, read.Raw)
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	n := NewNormalizer(true, nil)

	for _, raw := range []string{"AB1234", "ABCD1234", "1234567", "ABCDEFG", "ABC12345", "ÁBC1234X"} {
		t.Run(raw, func(t *testing.T) {
			read, err := n.Normalize(raw)
			require.NoError(t, err)
			assert.False(t, read.Valid)
			assert.Equal(t, PlateUnknown, read.Format)
			assert.Empty(t, read.Canonical)
		})
	}
}

func TestNormalizeEmpty(t *testing.T) {
	n := NewNormalizer(true, nil)

	for _, raw := range []string{"", "   ", "--..", "çã"} {
		read, err := n.Normalize(raw)
		require.ErrorIs(t, err, ErrEmptyPlateText)
		assert.False(t, read.Valid)
		assert.Equal(t, PlateUnknown, read.Format)
	}
}

func TestNormalizeCorrection(t *testing.T) {
	n := NewNormalizer(true, nil)

	read, err := n.Normalize("4BC1234")
	require.NoError(t, err)
	assert.True(t, read.Valid)
	assert.True(t, read.Corrected)
	assert.Equal(t, "ABC1234", read.Canonical)
	assert.Equal(t, PlateLegacy, read.Format)

	read, err = n.Normalize("8RA2E1S")
	require.NoError(t, err)
	assert.True(t, read.Valid)
	assert.Equal(t, "BRA2E15", read.Canonical)
	assert.Equal(t, PlateMercosul, read.Format)

	// Non-confusable letter in slot 4 keeps the Mercosul reading.
	read, err = n.Normalize("A8C1D2S")
	require.NoError(t, err)
	assert.True(t, read.Valid)
	assert.Equal(t, "ABC1D25", read.Canonical)
	assert.Equal(t, PlateMercosul, read.Format)

	// Strict matches are never rewritten.
	read, err = n.Normalize("ABC1O23")
	require.NoError(t, err)
	assert.False(t, read.Corrected)
	assert.Equal(t, "ABC1O23", read.Canonical)
	assert.Equal(t, PlateMercosul, read.Format)
}

func TestNormalizeCorrectionBothGrammars(t *testing.T) {
	n := NewNormalizer(true, nil)

	// Each of these has a legacy and a Mercosul reading, ABC1025 and ABC1O25 for the first.
	for _, raw := range []string{"ABC1O2S", "ABCIO23", "ABC1S2O", "4BC1O34"} {
		t.Run(raw, func(t *testing.T) {
			read, err := n.Normalize(raw)
			require.NoError(t, err)
			assert.False(t, read.Valid)
			assert.False(t, read.Corrected)
			assert.Equal(t, PlateUnknown, read.Format)
			assert.Empty(t, read.Canonical)
		})
	}
}

func TestNormalizeCorrectionDisabled(t *testing.T) {
	n := NewNormalizer(false, nil)

	read, err := n.Normalize("4BC1234")
	require.NoError(t, err)
	assert.False(t, read.Valid)
	assert.Equal(t, PlateUnknown, read.Format)
}

func TestNormalizeCorrectionUnfixable(t *testing.T) {
	n := NewNormalizer(true, nil)

	// '7' has no letter counterpart in the default table.
	read, err := n.Normalize("7BC1234")
	require.NoError(t, err)
	assert.False(t, read.Valid)
}

func TestNormalizeCustomTable(t *testing.T) {
	n := NewNormalizer(true, Confusables{'G': '6', 'Q': '0', 'O': '0'})

	read, err := n.Normalize("6HJ1234")
	require.NoError(t, err)
	assert.Equal(t, "GHJ1234", read.Canonical)

	// Q and O both map to 0; the inverse picks O.
	read, err = n.Normalize("0HJ1234")
	require.NoError(t, err)
	assert.Equal(t, "OHJ1234", read.Canonical)
}

func TestPlateDisplay(t *testing.T) {
	assert.Equal(t, "ABC-1234", PlateRead{Canonical: "ABC1234", Format: PlateLegacy}.Display())
	assert.Equal(t, "ABC1D23", PlateRead{Canonical: "ABC1D23", Format: PlateMercosul}.Display())
	assert.Equal(t, "", PlateRead{Format: PlateUnknown}.Display())
}

const plateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-. "

func randomPlateText(r *rand.Rand) string {
	n := 5 + r.Intn(6)
	b := make([]byte, n)
	for i := range b {
		b[i] = plateAlphabet[r.Intn(len(plateAlphabet))]
	}
	return string(b)
}

func TestGrammarsAreExclusive(t *testing.T) {
	n := NewNormalizer(true, nil)
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 20000; i++ {
		raw := randomPlateText(r)
		read, err := n.Normalize(raw)
		if err != nil {
			continue
		}
		if !read.Valid {
			continue
		}
		legacy := legacyPlate.MatchString(read.Canonical)
		mercosul := mercosulPlate.MatchString(read.Canonical)
		require.True(t, legacy != mercosul, "plate %q matched both or neither grammar", read.Canonical)
	}

	// Every possible slot-4 character yields at most one format.
	for c := byte('0'); c <= 'Z'; c++ {
		if !isLetter(c) && !isDigit(c) {
			continue
		}
		text := "ABC1" + string(c) + "23"
		assert.False(t, legacyPlate.MatchString(text) && mercosulPlate.MatchString(text), text)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := NewNormalizer(true, nil)
	r := rand.New(rand.NewSource(7))

	check := func(raw string) {
		first, err := n.Normalize(raw)
		if err != nil || !first.Valid {
			return
		}
		second, err := n.Normalize(first.Canonical)
		require.NoError(t, err)
		assert.Equal(t, first.Canonical, second.Canonical, raw)
		assert.Equal(t, first.Format, second.Format, raw)
		assert.True(t, second.Valid, raw)
		assert.False(t, second.Corrected, raw)
	}

	for _, raw := range []string{"ABC1234", "abc-1d23", "4BC1234", "A8C1D2S", "8RA2E1S"} {
		check(raw)
	}
	for i := 0; i < 5000; i++ {
		check(randomPlateText(r))
	}
}
