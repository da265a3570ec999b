package cpu_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"rv6/cpu"
)

func TestRegistryIndexesByHartID(t *testing.T) {
	r := cpu.NewRegistry(4)
	require.Equal(t, 4, r.Count())
	for i := 0; i < 4; i++ {
		require.Equal(t, i, r.Hart(i).ID)
	}
}

func TestWithCPUFromContext(t *testing.T) {
	c := cpu.NewCPU(7)
	ctx := cpu.WithCPU(context.Background(), c)
	require.Same(t, c, cpu.FromContext(ctx))
}

func TestFromContextPanicsWithoutHart(t *testing.T) {
	require.Panics(t, func() { cpu.FromContext(context.Background()) })
}

func TestSetProc(t *testing.T) {
	c := cpu.NewCPU(0)
	require.Nil(t, c.Proc())
	c.SetProc("placeholder")
	require.Equal(t, "placeholder", c.Proc())
	c.SetProc(nil)
	require.Nil(t, c.Proc())
}
