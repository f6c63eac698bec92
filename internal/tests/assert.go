package tests

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func AssertIsNil(t *testing.T, v interface{}) {
	t.Helper()
	assert.Nil(t, v)
}

func AssertNotNil(t *testing.T, v interface{}) {
	t.Helper()
	require.NotNil(t, v)
}

func AssertEqual(t *testing.T, e, g interface{}) {
	t.Helper()
	assert.Equal(t, e, g)
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
}

func AssertErrorContains(t *testing.T, err error, s string) {
	t.Helper()
	assert.ErrorContains(t, err, s)
}

// AssertErrorAs checks that err matches target's type with errors.As and
// returns the match.
func AssertErrorAs[E error](t *testing.T, err error) E {
	t.Helper()
	var target E
	require.ErrorAs(t, err, &target)
	return target
}

// AssertContains checks s, lowercased, for substr.
func AssertContains(t *testing.T, s, substr string, shouldContain bool) {
	t.Helper()
	s = strings.ToLower(s)
	if shouldContain {
		assert.Contains(t, s, substr)
	} else {
		assert.NotContains(t, s, substr)
	}
}
