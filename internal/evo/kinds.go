package evo

const (
	KindDelete           = "delete"
	KindReplace          = "replace"
	KindInsert           = "insert"
	KindGenerateBlock    = "generate-block"
	KindEdit             = "edit"
	KindRetypeToRegister = "retype-to-register"
	KindTypeUp           = "type-up"
	KindTypeDown         = "type-down"
	KindSwapAdjacentArg  = "swap-adjacent-arg"
	KindNegate           = "negate"
	KindRebind           = "rebind"
	KindForceZeroOutput  = "force-zero-output"
	KindRetypeToConstant = "retype-to-constant"
	KindSwap             = "swap"
	KindChangeOpcode     = "change-opcode"
	KindJoin             = "join"
	KindSplit            = "split"
	KindForceLink        = "force-link"
	KindInsertCall       = "insert-call"
	KindGenerateFromRun  = "generate-from-run"
	KindDeleteBlock      = "delete-block"
	KindGrowArglist      = "grow-arglist"
	KindShrinkArglist    = "shrink-arglist"
)

func init() {
	for _, spec := range builtinKinds() {
		mustRegisterKind(spec)
	}
}

func builtinKinds() []KindSpec {
	return []KindSpec{
		{Name: KindDelete, Pool: PoolGlobal, Fn: deleteInstr, Structural: true},
		{Name: KindReplace, Pool: PoolGlobal, Fn: replaceInstr, Structural: true},
		{Name: KindInsert, Pool: PoolGlobal, Fn: insertInstr, Structural: true},
		{Name: KindGenerateBlock, Pool: PoolGlobal, Fn: generateBlock, Structural: true},

		{Name: KindEdit, Pool: PoolValue, Fn: editValue},
		{Name: KindRetypeToRegister, Pool: PoolValue, Fn: retypeToRegister},
		{Name: KindTypeUp, Pool: PoolValue, Fn: typeUp},
		{Name: KindTypeDown, Pool: PoolValue, Fn: typeDown},
		{Name: KindSwapAdjacentArg, Pool: PoolValue, Fn: swapAdjacentArg},
		{Name: KindNegate, Pool: PoolValue, Fn: negateValue},

		{Name: KindRebind, Pool: PoolRegNo, Fn: rebindRegister},
		{Name: KindForceZeroOutput, Pool: PoolRegNo, Fn: forceZeroOutput},
		{Name: KindRetypeToConstant, Pool: PoolRegNo, Fn: retypeToConstant},
		{Name: KindSwap, Pool: PoolRegNo, Fn: swapRegisters},

		{Name: KindChangeOpcode, Pool: PoolInstr, Fn: changeOpcode},
		{Name: KindJoin, Pool: PoolInstr, Fn: joinInstr, Structural: true},
		{Name: KindSplit, Pool: PoolInstr, Fn: splitInstr, Structural: true},
		{Name: KindForceLink, Pool: PoolInstr, Fn: forceLink},

		{Name: KindInsertCall, Pool: PoolMacro, Fn: insertCall, Structural: true},
		{Name: KindGenerateFromRun, Pool: PoolMacro, Fn: generateFromRun, Structural: true},
		{Name: KindDeleteBlock, Pool: PoolMacro, Fn: deleteBlock, Structural: true},
		{Name: KindGrowArglist, Pool: PoolMacro, Fn: growArglist, Structural: true},
		{Name: KindShrinkArglist, Pool: PoolMacro, Fn: shrinkArglist, Structural: true},
	}
}
