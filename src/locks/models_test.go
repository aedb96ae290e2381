package locks

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeCompatibilityIsSymmetric(t *testing.T) {
	modes := []Mode{ModeIS, ModeIX, ModeS, ModeX, ModeAutoInc}
	for _, a := range modes {
		for _, b := range modes {
			assert.Equal(t, a.Compatible(b), b.Compatible(a),
				"compatibility must be symmetric for %s/%s", a, b)
		}
	}
}

func TestModeLattice(t *testing.T) {
	tests := []struct {
		a, b       Mode
		compatible bool
		stronger   bool
	}{
		{ModeIS, ModeIS, true, true},
		{ModeIS, ModeIX, true, false},
		{ModeIX, ModeIS, true, true},
		{ModeIS, ModeS, true, false},
		{ModeS, ModeIS, true, true},
		{ModeIX, ModeS, false, false},
		{ModeS, ModeS, true, true},
		{ModeS, ModeX, false, false},
		{ModeX, ModeIS, false, true},
		{ModeX, ModeIX, false, true},
		{ModeX, ModeS, false, true},
		{ModeX, ModeX, false, true},
		{ModeX, ModeAutoInc, false, true},
		{ModeAutoInc, ModeAutoInc, false, true},
		{ModeAutoInc, ModeX, false, false},
		{ModeAutoInc, ModeIS, true, false},
		{ModeAutoInc, ModeIX, true, false},
		{ModeAutoInc, ModeS, true, false},
	}

	for _, test := range tests {
		name := fmt.Sprintf("%s_vs_%s", test.a, test.b)
		t.Run(name, func(t *testing.T) {
			require.Equal(t, test.compatible, test.a.Compatible(test.b))
			require.Equal(t, test.stronger, test.a.StrongerOrEq(test.b))
		})
	}
}

func TestTypeModeFlags(t *testing.T) {
	tm := TypeMode(ModeX) | FlagGap | FlagInsertIntention | FlagWait

	require.Equal(t, ModeX, tm.Mode())
	require.True(t, tm.IsGap())
	require.True(t, tm.IsInsertIntention())
	require.True(t, tm.IsWaiting())
	require.False(t, tm.IsTable())
	require.False(t, tm.IsRecordNotGap())
	require.False(t, tm.IsPredicate())
}

func TestBitmapOperations(t *testing.T) {
	l := &Lock{nBits: 16, bitmap: make([]byte, 2)}

	require.True(t, l.FirstSetBit().IsNone())

	l.setBit(3)
	l.setBit(9)
	require.True(t, l.IsSetBit(3))
	require.True(t, l.IsSetBit(9))
	require.False(t, l.IsSetBit(4))
	require.False(t, l.IsSetBit(100), "out-of-range bits read as unset")

	first := l.FirstSetBit()
	require.True(t, first.IsSome())
	require.EqualValues(t, 3, first.Unwrap())

	require.True(t, l.resetBit(3))
	require.False(t, l.resetBit(3), "second reset reports the bit was clear")
	require.False(t, l.resetBit(100))

	l.resetBitmap()
	require.True(t, l.FirstSetBit().IsNone())
}

func TestStatusStrings(t *testing.T) {
	require.Equal(t, "SUCCESS", StatusSuccess.String())
	require.Equal(t, "LOCKED_REC", StatusLockedRec.String())
	require.Equal(t, "WAIT", StatusWait.String())
	require.Equal(t, "WAIT_TIMEOUT", StatusWaitTimeout.String())
	require.Equal(t, "DEADLOCK", StatusDeadlock.String())
}
