package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageIdentityFoldIsStable(t *testing.T) {
	p := PageIdentity{FileID: 3, PageID: 77}
	require.Equal(t, p.Fold(), p.Fold())
}

func TestPageIdentityFoldSeparatesFileAndPage(t *testing.T) {
	a := PageIdentity{FileID: 1, PageID: 2}
	b := PageIdentity{FileID: 2, PageID: 1}
	require.NotEqual(t, a.Fold(), b.Fold(),
		"swapping file and page ids must not collide trivially")
}

func TestRecordIDAccessors(t *testing.T) {
	r := RecordID{Page: PageIdentity{FileID: 1, PageID: 5}, HeapNo: 3}
	require.Equal(t, "[file 1 page 5] heap 3", r.String())
}

func TestHeapNoConstants(t *testing.T) {
	require.EqualValues(t, 0, HeapNoInfimum)
	require.EqualValues(t, 1, HeapNoSupremum)
	require.EqualValues(t, 2, HeapNoUserLow)
}
