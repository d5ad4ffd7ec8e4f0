package resource

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
)

func TestMonitorAcquireTracksLiveAndPeak(t *testing.T) {
	m := NewMonitor(nil)

	h1, err := m.Acquire(FamilyFile, "f1", func() {})
	require.NoError(t, err)
	h2, err := m.Acquire(FamilyFile, "f2", func() {})
	require.NoError(t, err)

	assert.Equal(t, 2, m.LiveCount(FamilyFile))

	h1.Release()
	assert.Equal(t, 1, m.LiveCount(FamilyFile))

	snap := m.Dump()
	assert.Equal(t, 2, snap.Peak[FamilyFile])
	assert.Equal(t, uint64(2), snap.Total[FamilyFile])

	h2.Release()
	assert.Equal(t, 0, m.LiveCount(FamilyFile))
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	m := NewMonitor(nil)
	released := 0
	h, err := m.Acquire(FamilyWindow, "w1", func() { released++ })
	require.NoError(t, err)

	h.Release()
	h.Release()
	h.Release()

	assert.Equal(t, 1, released)
	assert.Equal(t, 0, m.LiveCount(FamilyWindow))
}

func TestHandleMoveNeutersSource(t *testing.T) {
	m := NewMonitor(nil)
	released := 0
	h, err := m.Acquire(FamilyProcess, "p1", func() { released++ })
	require.NoError(t, err)

	moved := h.Move()

	// releasing the neutered source must not run the close action again
	h.Release()
	assert.Equal(t, 0, released)
	assert.Equal(t, 1, m.LiveCount(FamilyProcess))

	moved.Release()
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, m.LiveCount(FamilyProcess))
}

func TestCheckThresholdsRefusesAtLimit(t *testing.T) {
	m := NewMonitor(Thresholds{FamilyThread: 1})

	require.NoError(t, m.CheckThresholds())

	h, err := m.Acquire(FamilyThread, NextThreadLabel(), func() {})
	require.NoError(t, err)

	err = m.CheckThresholds()
	require.Error(t, err)
	assert.Equal(t, errs.ResourceExhausted, errs.KindOf(err))

	h.Release()
	assert.NoError(t, m.CheckThresholds())
}

func TestAcquireRefusesAtThreshold(t *testing.T) {
	m := NewMonitor(Thresholds{FamilyMutex: 1})

	_, err := m.Acquire(FamilyMutex, "m1", func() {})
	require.NoError(t, err)

	_, err = m.Acquire(FamilyMutex, "m2", func() {})
	require.Error(t, err)
	assert.Equal(t, errs.ResourceExhausted, errs.KindOf(err))
}

func TestNextThreadLabelIsMonotonic(t *testing.T) {
	a := NextThreadLabel()
	b := NextThreadLabel()
	assert.NotEqual(t, a, b)

	na, err := strconv.Atoi(strings.TrimPrefix(a, "thread-"))
	require.NoError(t, err)
	nb, err := strconv.Atoi(strings.TrimPrefix(b, "thread-"))
	require.NoError(t, err)
	assert.Greater(t, nb, na)
}

func TestReleaseOnNilHandleIsSafe(t *testing.T) {
	var h *Handle
	assert.NotPanics(t, func() { h.Release() })
	assert.Equal(t, Family(""), h.Family())
	assert.Equal(t, "", h.Label())
}
