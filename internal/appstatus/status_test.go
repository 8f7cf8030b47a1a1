package appstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMax_Commutative(t *testing.T) {
	t.Parallel()

	for a := Unknown; a <= Inconsistent; a++ {
		for b := Unknown; b <= Inconsistent; b++ {
			assert.Equal(t, Max(a, b), Max(b, a))
		}
	}
}

func TestMax_Associative(t *testing.T) {
	t.Parallel()

	for a := Unknown; a <= Inconsistent; a++ {
		for b := Unknown; b <= Inconsistent; b++ {
			for c := Unknown; c <= Inconsistent; c++ {
				assert.Equal(t, Max(Max(a, b), c), Max(a, Max(b, c)))
			}
		}
	}
}

func TestMax_HealthyIsIdentity(t *testing.T) {
	t.Parallel()

	for a := Unknown; a <= Inconsistent; a++ {
		assert.Equal(t, a, Max(a, Healthy))
	}
}

func TestMax_InconsistentAbsorbs(t *testing.T) {
	t.Parallel()

	for a := Unknown; a <= Inconsistent; a++ {
		assert.Equal(t, Inconsistent, Max(a, Inconsistent))
	}
}

func TestRollup_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Healthy, Rollup())
}

func TestRollup_WorstWins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Inconsistent, Rollup(Healthy, Warning, Inconsistent, Stopped))
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HEALTHY", Healthy.String())
	assert.Equal(t, "INCONSISTENT", Inconsistent.String())
	assert.Equal(t, "UNKNOWN", Status(99).String())
}
