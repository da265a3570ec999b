package util_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rv6/util"
)

func TestMinMax(t *testing.T) {
	require.Equal(t, 3, util.Min(3, 5))
	require.Equal(t, 5, util.Min(5, 3))
	require.Equal(t, 5, util.Max(3, 5))
	require.Equal(t, 5, util.Max(5, 3))
}

func TestRoundDownUp(t *testing.T) {
	require.Equal(t, 4096, util.Rounddown(4097, 4096))
	require.Equal(t, 0, util.Rounddown(4095, 4096))
	require.Equal(t, 8192, util.Roundup(4097, 4096))
	require.Equal(t, 4096, util.Roundup(4096, 4096))
	require.Equal(t, 0, util.Roundup(0, 4096))
}

func TestReadnWriten(t *testing.T) {
	buf := make([]byte, 16)
	util.Writen(buf, 4, 0, 0x11223344)
	require.Equal(t, 0x11223344, util.Readn(buf, 4, 0))

	util.Writen(buf, 2, 4, 0xBEEF)
	require.Equal(t, 0xBEEF, util.Readn(buf, 2, 4))

	util.Writen(buf, 1, 6, 0x7F)
	require.Equal(t, 0x7F, util.Readn(buf, 1, 6))
}

func TestReadnOutOfBoundsPanics(t *testing.T) {
	buf := make([]byte, 4)
	require.Panics(t, func() { util.Readn(buf, 4, 2) })
}
