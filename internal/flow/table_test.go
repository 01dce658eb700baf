// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testFP(srcPort uint16) Fingerprint {
	return Fingerprint{
		SrcAddr:   netip.MustParseAddr("10.0.0.1"),
		DstAddr:   netip.MustParseAddr("93.184.216.34"),
		SrcPort:   srcPort,
		DstPort:   53,
		Transport: TransportUDP,
	}
}

func TestFindOrInsertCreatesOnce(t *testing.T) {
	tbl := NewTable(4, 100, nil)
	fp := testFP(40000)

	rec1, created1, err := tbl.FindOrInsert(fp)
	assert.NoError(t, err)
	assert.True(t, created1)

	rec2, created2, err := tbl.FindOrInsert(fp)
	assert.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, rec1, rec2)

	assert.Equal(t, 1, tbl.Count())
}

func TestFindOrInsertRespectsCapacity(t *testing.T) {
	tbl := NewTable(4, 2, nil)

	_, _, err := tbl.FindOrInsert(testFP(1))
	assert.NoError(t, err)
	_, _, err = tbl.FindOrInsert(testFP(2))
	assert.NoError(t, err)

	_, _, err = tbl.FindOrInsert(testFP(3))
	assert.Error(t, err)
	assert.Equal(t, 2, tbl.Count())
}

func TestDeleteRemovesFlow(t *testing.T) {
	tbl := NewTable(4, 100, nil)
	fp := testFP(1)
	tbl.FindOrInsert(fp)

	tbl.Delete(fp)
	assert.Equal(t, 0, tbl.Count())

	_, ok := tbl.Find(fp)
	assert.False(t, ok)
}

func TestWalkVisitsEveryFlowOnce(t *testing.T) {
	tbl := NewTable(4, 100, nil)
	for i := uint16(1); i <= 20; i++ {
		tbl.FindOrInsert(testFP(i))
	}

	seen := map[Fingerprint]int{}
	tbl.Walk(func(fp Fingerprint, rec *Record) {
		seen[fp]++
	})

	assert.Len(t, seen, 20)
	for fp, n := range seen {
		assert.Equalf(t, 1, n, "fingerprint %v visited %d times", fp, n)
	}
}

func TestDestroyEmptiesTable(t *testing.T) {
	tbl := NewTable(4, 100, nil)
	for i := uint16(1); i <= 5; i++ {
		tbl.FindOrInsert(testFP(i))
	}

	freed := 0
	tbl.Destroy(func(fp Fingerprint, rec *Record) { freed++ })

	assert.Equal(t, 5, freed)
	assert.Equal(t, 0, tbl.Count())
}

func TestReversedFingerprintSwapsDirection(t *testing.T) {
	fp := testFP(40000)
	rev := fp.Reversed()

	assert.Equal(t, fp.SrcAddr, rev.DstAddr)
	assert.Equal(t, fp.DstPort, rev.SrcPort)
}
