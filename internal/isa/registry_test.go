package isa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryLookup(t *testing.T) {
	r := DefaultRegistry()
	op, ok := r.Lookup("ADD_INT")
	require.True(t, ok)
	require.Equal(t, OpAddInt, op)

	d, err := r.Resolve(op)
	require.NoError(t, err)
	require.Equal(t, 3, d.MaxArgs)
	require.True(t, d.Arg(2).IO.Writes())
	require.Equal(t, 2, d.OutputArg(3))
	require.Equal(t, "ADD_INT", r.Name(op))

	call, ok := r.CallOpcode()
	require.True(t, ok)
	require.Equal(t, OpCall, call)
	require.NotContains(t, r.Mutable(), OpData)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(TypeAny,
		Descriptor{Code: 1, Name: "A"},
		Descriptor{Code: 1, Name: "B"},
	)
	require.True(t, errors.Is(err, ErrOpcodeExists))

	_, err = NewRegistry(TypeAny,
		Descriptor{Code: 1, Name: "A"},
		Descriptor{Code: 2, Name: "A"},
	)
	require.True(t, errors.Is(err, ErrOpcodeExists))
}

func TestRegistryRejectsBadArity(t *testing.T) {
	_, err := NewRegistry(TypeAny, Descriptor{Code: 1, Name: "A", MinArgs: 3, MaxArgs: 2})
	require.Error(t, err)
}

func TestResolveCellChecksArity(t *testing.T) {
	r := DefaultRegistry()
	_, argc, err := r.ResolveCell(EncodeInstr(OpAddInt, 3))
	require.NoError(t, err)
	require.Equal(t, 3, argc)

	_, _, err = r.ResolveCell(EncodeInstr(OpAddInt, 4))
	require.True(t, errors.Is(err, ErrArityMismatch))

	_, _, err = r.ResolveCell(EncodeInstr(9999, 1))
	require.True(t, errors.Is(err, ErrUnknownOpcode))

	_, _, err = r.ResolveCell(BuildRegisterArg(3))
	require.True(t, errors.Is(err, ErrNotAnOpcode))
}

func TestDynamicArgSpecs(t *testing.T) {
	d, err := DefaultRegistry().Resolve(OpCall)
	require.NoError(t, err)
	require.Equal(t, ArgConstant, d.ArgAt(0, 4).Kind)
	require.Equal(t, IOIn, d.ArgAt(1, 4).IO)
	require.Equal(t, IOOut, d.ArgAt(3, 4).IO)
	require.Equal(t, 3, d.OutputArg(4))
}
