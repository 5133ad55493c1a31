package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiftSeqNoWrap(t *testing.T) {
	assert.EqualValues(t, 1530, LiftSeq(1275, 1530))
}

func TestLiftSeqAcrossWrap(t *testing.T) {
	// reference just short of a 65536 boundary, wire value wrapped back to 4.
	got := LiftSeq(65025, 4)
	assert.EqualValues(t, 65540, got)
	assert.GreaterOrEqual(t, got, uint64(65025))
	assert.EqualValues(t, 4, got%65536)
}

func TestLiftSeqNeverGoesBackwards(t *testing.T) {
	ref := uint64(200000)
	got := LiftSeq(ref, uint16(ref%65536))
	assert.Equal(t, ref, got)
}

func TestSlotIndex(t *testing.T) {
	assert.Equal(t, 0, SlotIndex(1000, 1000))
	assert.Equal(t, 1, SlotIndex(1000, 1255))
	assert.Equal(t, 7, SlotIndex(0, 7*MaxDataLen))
}
