package classfile

import "fmt"

// Opcode is a JVM bytecode instruction opcode.
type Opcode uint8

// Opcodes.
const (
	OpNop             Opcode = 0
	OpAconstNull      Opcode = 1
	OpIconstM1        Opcode = 2
	OpIconst0         Opcode = 3
	OpIconst1         Opcode = 4
	OpIconst2         Opcode = 5
	OpIconst3         Opcode = 6
	OpIconst4         Opcode = 7
	OpIconst5         Opcode = 8
	OpLconst0         Opcode = 9
	OpLconst1         Opcode = 10
	OpFconst0         Opcode = 11
	OpFconst1         Opcode = 12
	OpFconst2         Opcode = 13
	OpDconst0         Opcode = 14
	OpDconst1         Opcode = 15
	OpBipush          Opcode = 16
	OpSipush          Opcode = 17
	OpLdc             Opcode = 18
	OpLdcW            Opcode = 19
	OpLdc2W           Opcode = 20
	OpIload           Opcode = 21
	OpLload           Opcode = 22
	OpFload           Opcode = 23
	OpDload           Opcode = 24
	OpAload           Opcode = 25
	OpIload0          Opcode = 26
	OpIload1          Opcode = 27
	OpIload2          Opcode = 28
	OpIload3          Opcode = 29
	OpLload0          Opcode = 30
	OpLload1          Opcode = 31
	OpLload2          Opcode = 32
	OpLload3          Opcode = 33
	OpFload0          Opcode = 34
	OpFload1          Opcode = 35
	OpFload2          Opcode = 36
	OpFload3          Opcode = 37
	OpDload0          Opcode = 38
	OpDload1          Opcode = 39
	OpDload2          Opcode = 40
	OpDload3          Opcode = 41
	OpAload0          Opcode = 42
	OpAload1          Opcode = 43
	OpAload2          Opcode = 44
	OpAload3          Opcode = 45
	OpIaload          Opcode = 46
	OpLaload          Opcode = 47
	OpFaload          Opcode = 48
	OpDaload          Opcode = 49
	OpAaload          Opcode = 50
	OpBaload          Opcode = 51
	OpCaload          Opcode = 52
	OpSaload          Opcode = 53
	OpIstore          Opcode = 54
	OpLstore          Opcode = 55
	OpFstore          Opcode = 56
	OpDstore          Opcode = 57
	OpAstore          Opcode = 58
	OpIstore0         Opcode = 59
	OpIstore1         Opcode = 60
	OpIstore2         Opcode = 61
	OpIstore3         Opcode = 62
	OpLstore0         Opcode = 63
	OpLstore1         Opcode = 64
	OpLstore2         Opcode = 65
	OpLstore3         Opcode = 66
	OpFstore0         Opcode = 67
	OpFstore1         Opcode = 68
	OpFstore2         Opcode = 69
	OpFstore3         Opcode = 70
	OpDstore0         Opcode = 71
	OpDstore1         Opcode = 72
	OpDstore2         Opcode = 73
	OpDstore3         Opcode = 74
	OpAstore0         Opcode = 75
	OpAstore1         Opcode = 76
	OpAstore2         Opcode = 77
	OpAstore3         Opcode = 78
	OpIastore         Opcode = 79
	OpLastore         Opcode = 80
	OpFastore         Opcode = 81
	OpDastore         Opcode = 82
	OpAastore         Opcode = 83
	OpBastore         Opcode = 84
	OpCastore         Opcode = 85
	OpSastore         Opcode = 86
	OpPop             Opcode = 87
	OpPop2            Opcode = 88
	OpDup             Opcode = 89
	OpDupX1           Opcode = 90
	OpDupX2           Opcode = 91
	OpDup2            Opcode = 92
	OpDup2X1          Opcode = 93
	OpDup2X2          Opcode = 94
	OpSwap            Opcode = 95
	OpIadd            Opcode = 96
	OpLadd            Opcode = 97
	OpFadd            Opcode = 98
	OpDadd            Opcode = 99
	OpIsub            Opcode = 100
	OpLsub            Opcode = 101
	OpFsub            Opcode = 102
	OpDsub            Opcode = 103
	OpImul            Opcode = 104
	OpLmul            Opcode = 105
	OpFmul            Opcode = 106
	OpDmul            Opcode = 107
	OpIdiv            Opcode = 108
	OpLdiv            Opcode = 109
	OpFdiv            Opcode = 110
	OpDdiv            Opcode = 111
	OpIrem            Opcode = 112
	OpLrem            Opcode = 113
	OpFrem            Opcode = 114
	OpDrem            Opcode = 115
	OpIneg            Opcode = 116
	OpLneg            Opcode = 117
	OpFneg            Opcode = 118
	OpDneg            Opcode = 119
	OpIshl            Opcode = 120
	OpLshl            Opcode = 121
	OpIshr            Opcode = 122
	OpLshr            Opcode = 123
	OpIushr           Opcode = 124
	OpLushr           Opcode = 125
	OpIand            Opcode = 126
	OpLand            Opcode = 127
	OpIor             Opcode = 128
	OpLor             Opcode = 129
	OpIxor            Opcode = 130
	OpLxor            Opcode = 131
	OpIinc            Opcode = 132
	OpI2l             Opcode = 133
	OpI2f             Opcode = 134
	OpI2d             Opcode = 135
	OpL2i             Opcode = 136
	OpL2f             Opcode = 137
	OpL2d             Opcode = 138
	OpF2i             Opcode = 139
	OpF2l             Opcode = 140
	OpF2d             Opcode = 141
	OpD2i             Opcode = 142
	OpD2l             Opcode = 143
	OpD2f             Opcode = 144
	OpI2b             Opcode = 145
	OpI2c             Opcode = 146
	OpI2s             Opcode = 147
	OpLcmp            Opcode = 148
	OpFcmpl           Opcode = 149
	OpFcmpg           Opcode = 150
	OpDcmpl           Opcode = 151
	OpDcmpg           Opcode = 152
	OpIfeq            Opcode = 153
	OpIfne            Opcode = 154
	OpIflt            Opcode = 155
	OpIfge            Opcode = 156
	OpIfgt            Opcode = 157
	OpIfle            Opcode = 158
	OpIfIcmpeq        Opcode = 159
	OpIfIcmpne        Opcode = 160
	OpIfIcmplt        Opcode = 161
	OpIfIcmpge        Opcode = 162
	OpIfIcmpgt        Opcode = 163
	OpIfIcmple        Opcode = 164
	OpIfAcmpeq        Opcode = 165
	OpIfAcmpne        Opcode = 166
	OpGoto            Opcode = 167
	OpJsr             Opcode = 168
	OpRet             Opcode = 169
	OpTableswitch     Opcode = 170
	OpLookupswitch    Opcode = 171
	OpIreturn         Opcode = 172
	OpLreturn         Opcode = 173
	OpFreturn         Opcode = 174
	OpDreturn         Opcode = 175
	OpAreturn         Opcode = 176
	OpReturn          Opcode = 177
	OpGetstatic       Opcode = 178
	OpPutstatic       Opcode = 179
	OpGetfield        Opcode = 180
	OpPutfield        Opcode = 181
	OpInvokevirtual   Opcode = 182
	OpInvokespecial   Opcode = 183
	OpInvokestatic    Opcode = 184
	OpInvokeinterface Opcode = 185
	OpInvokedynamic   Opcode = 186
	OpNew             Opcode = 187
	OpNewarray        Opcode = 188
	OpAnewarray       Opcode = 189
	OpArraylength     Opcode = 190
	OpAthrow          Opcode = 191
	OpCheckcast       Opcode = 192
	OpInstanceof      Opcode = 193
	OpMonitorenter    Opcode = 194
	OpMonitorexit     Opcode = 195
	OpWide            Opcode = 196
	OpMultianewarray  Opcode = 197
	OpIfnull          Opcode = 198
	OpIfnonnull       Opcode = 199
	OpGotoW           Opcode = 200
	OpJsrW            Opcode = 201
)

// OpcodeFlags describe the control-flow and side-effect properties of an
// opcode.
type OpcodeFlags uint16

const (
	FlagBranch      OpcodeFlags = 1 << iota // has a 16- or 32-bit branch offset
	FlagConditional                         // may fall through
	FlagBlockEnd                            // never falls through
	FlagTrap                                // may raise an implicit exception
	FlagInvoke
	FlagFieldAccess
	FlagSwitch
	FlagReturn
	FlagLoad  // reads a local variable
	FlagStore // writes a local variable
	FlagJSR
)

type opcodeInfo struct {
	name   string
	length int // 0 for variable-length instructions
	flags  OpcodeFlags
}

var opcodeTable [256]opcodeInfo

func def(op Opcode, name string, length int, flags OpcodeFlags) {
	opcodeTable[op] = opcodeInfo{name: name, length: length, flags: flags}
}

func init() {
	def(OpNop, "nop", 1, 0)
	def(OpAconstNull, "aconst_null", 1, 0)
	def(OpIconstM1, "iconst_m1", 1, 0)
	def(OpIconst0, "iconst_0", 1, 0)
	def(OpIconst1, "iconst_1", 1, 0)
	def(OpIconst2, "iconst_2", 1, 0)
	def(OpIconst3, "iconst_3", 1, 0)
	def(OpIconst4, "iconst_4", 1, 0)
	def(OpIconst5, "iconst_5", 1, 0)
	def(OpLconst0, "lconst_0", 1, 0)
	def(OpLconst1, "lconst_1", 1, 0)
	def(OpFconst0, "fconst_0", 1, 0)
	def(OpFconst1, "fconst_1", 1, 0)
	def(OpFconst2, "fconst_2", 1, 0)
	def(OpDconst0, "dconst_0", 1, 0)
	def(OpDconst1, "dconst_1", 1, 0)
	def(OpBipush, "bipush", 2, 0)
	def(OpSipush, "sipush", 3, 0)
	def(OpLdc, "ldc", 2, FlagTrap)
	def(OpLdcW, "ldc_w", 3, FlagTrap)
	def(OpLdc2W, "ldc2_w", 3, FlagTrap)
	def(OpIload, "iload", 2, FlagLoad)
	def(OpLload, "lload", 2, FlagLoad)
	def(OpFload, "fload", 2, FlagLoad)
	def(OpDload, "dload", 2, FlagLoad)
	def(OpAload, "aload", 2, FlagLoad)
	def(OpIload0, "iload_0", 1, FlagLoad)
	def(OpIload1, "iload_1", 1, FlagLoad)
	def(OpIload2, "iload_2", 1, FlagLoad)
	def(OpIload3, "iload_3", 1, FlagLoad)
	def(OpLload0, "lload_0", 1, FlagLoad)
	def(OpLload1, "lload_1", 1, FlagLoad)
	def(OpLload2, "lload_2", 1, FlagLoad)
	def(OpLload3, "lload_3", 1, FlagLoad)
	def(OpFload0, "fload_0", 1, FlagLoad)
	def(OpFload1, "fload_1", 1, FlagLoad)
	def(OpFload2, "fload_2", 1, FlagLoad)
	def(OpFload3, "fload_3", 1, FlagLoad)
	def(OpDload0, "dload_0", 1, FlagLoad)
	def(OpDload1, "dload_1", 1, FlagLoad)
	def(OpDload2, "dload_2", 1, FlagLoad)
	def(OpDload3, "dload_3", 1, FlagLoad)
	def(OpAload0, "aload_0", 1, FlagLoad)
	def(OpAload1, "aload_1", 1, FlagLoad)
	def(OpAload2, "aload_2", 1, FlagLoad)
	def(OpAload3, "aload_3", 1, FlagLoad)
	def(OpIaload, "iaload", 1, FlagTrap)
	def(OpLaload, "laload", 1, FlagTrap)
	def(OpFaload, "faload", 1, FlagTrap)
	def(OpDaload, "daload", 1, FlagTrap)
	def(OpAaload, "aaload", 1, FlagTrap)
	def(OpBaload, "baload", 1, FlagTrap)
	def(OpCaload, "caload", 1, FlagTrap)
	def(OpSaload, "saload", 1, FlagTrap)
	def(OpIstore, "istore", 2, FlagStore)
	def(OpLstore, "lstore", 2, FlagStore)
	def(OpFstore, "fstore", 2, FlagStore)
	def(OpDstore, "dstore", 2, FlagStore)
	def(OpAstore, "astore", 2, FlagStore)
	def(OpIstore0, "istore_0", 1, FlagStore)
	def(OpIstore1, "istore_1", 1, FlagStore)
	def(OpIstore2, "istore_2", 1, FlagStore)
	def(OpIstore3, "istore_3", 1, FlagStore)
	def(OpLstore0, "lstore_0", 1, FlagStore)
	def(OpLstore1, "lstore_1", 1, FlagStore)
	def(OpLstore2, "lstore_2", 1, FlagStore)
	def(OpLstore3, "lstore_3", 1, FlagStore)
	def(OpFstore0, "fstore_0", 1, FlagStore)
	def(OpFstore1, "fstore_1", 1, FlagStore)
	def(OpFstore2, "fstore_2", 1, FlagStore)
	def(OpFstore3, "fstore_3", 1, FlagStore)
	def(OpDstore0, "dstore_0", 1, FlagStore)
	def(OpDstore1, "dstore_1", 1, FlagStore)
	def(OpDstore2, "dstore_2", 1, FlagStore)
	def(OpDstore3, "dstore_3", 1, FlagStore)
	def(OpAstore0, "astore_0", 1, FlagStore)
	def(OpAstore1, "astore_1", 1, FlagStore)
	def(OpAstore2, "astore_2", 1, FlagStore)
	def(OpAstore3, "astore_3", 1, FlagStore)
	def(OpIastore, "iastore", 1, FlagTrap)
	def(OpLastore, "lastore", 1, FlagTrap)
	def(OpFastore, "fastore", 1, FlagTrap)
	def(OpDastore, "dastore", 1, FlagTrap)
	def(OpAastore, "aastore", 1, FlagTrap)
	def(OpBastore, "bastore", 1, FlagTrap)
	def(OpCastore, "castore", 1, FlagTrap)
	def(OpSastore, "sastore", 1, FlagTrap)
	def(OpPop, "pop", 1, 0)
	def(OpPop2, "pop2", 1, 0)
	def(OpDup, "dup", 1, 0)
	def(OpDupX1, "dup_x1", 1, 0)
	def(OpDupX2, "dup_x2", 1, 0)
	def(OpDup2, "dup2", 1, 0)
	def(OpDup2X1, "dup2_x1", 1, 0)
	def(OpDup2X2, "dup2_x2", 1, 0)
	def(OpSwap, "swap", 1, 0)
	def(OpIadd, "iadd", 1, 0)
	def(OpLadd, "ladd", 1, 0)
	def(OpFadd, "fadd", 1, 0)
	def(OpDadd, "dadd", 1, 0)
	def(OpIsub, "isub", 1, 0)
	def(OpLsub, "lsub", 1, 0)
	def(OpFsub, "fsub", 1, 0)
	def(OpDsub, "dsub", 1, 0)
	def(OpImul, "imul", 1, 0)
	def(OpLmul, "lmul", 1, 0)
	def(OpFmul, "fmul", 1, 0)
	def(OpDmul, "dmul", 1, 0)
	def(OpIdiv, "idiv", 1, FlagTrap)
	def(OpLdiv, "ldiv", 1, FlagTrap)
	def(OpFdiv, "fdiv", 1, 0)
	def(OpDdiv, "ddiv", 1, 0)
	def(OpIrem, "irem", 1, FlagTrap)
	def(OpLrem, "lrem", 1, FlagTrap)
	def(OpFrem, "frem", 1, 0)
	def(OpDrem, "drem", 1, 0)
	def(OpIneg, "ineg", 1, 0)
	def(OpLneg, "lneg", 1, 0)
	def(OpFneg, "fneg", 1, 0)
	def(OpDneg, "dneg", 1, 0)
	def(OpIshl, "ishl", 1, 0)
	def(OpLshl, "lshl", 1, 0)
	def(OpIshr, "ishr", 1, 0)
	def(OpLshr, "lshr", 1, 0)
	def(OpIushr, "iushr", 1, 0)
	def(OpLushr, "lushr", 1, 0)
	def(OpIand, "iand", 1, 0)
	def(OpLand, "land", 1, 0)
	def(OpIor, "ior", 1, 0)
	def(OpLor, "lor", 1, 0)
	def(OpIxor, "ixor", 1, 0)
	def(OpLxor, "lxor", 1, 0)
	def(OpIinc, "iinc", 3, FlagLoad | FlagStore)
	def(OpI2l, "i2l", 1, 0)
	def(OpI2f, "i2f", 1, 0)
	def(OpI2d, "i2d", 1, 0)
	def(OpL2i, "l2i", 1, 0)
	def(OpL2f, "l2f", 1, 0)
	def(OpL2d, "l2d", 1, 0)
	def(OpF2i, "f2i", 1, 0)
	def(OpF2l, "f2l", 1, 0)
	def(OpF2d, "f2d", 1, 0)
	def(OpD2i, "d2i", 1, 0)
	def(OpD2l, "d2l", 1, 0)
	def(OpD2f, "d2f", 1, 0)
	def(OpI2b, "i2b", 1, 0)
	def(OpI2c, "i2c", 1, 0)
	def(OpI2s, "i2s", 1, 0)
	def(OpLcmp, "lcmp", 1, 0)
	def(OpFcmpl, "fcmpl", 1, 0)
	def(OpFcmpg, "fcmpg", 1, 0)
	def(OpDcmpl, "dcmpl", 1, 0)
	def(OpDcmpg, "dcmpg", 1, 0)
	def(OpIfeq, "ifeq", 3, FlagBranch | FlagConditional)
	def(OpIfne, "ifne", 3, FlagBranch | FlagConditional)
	def(OpIflt, "iflt", 3, FlagBranch | FlagConditional)
	def(OpIfge, "ifge", 3, FlagBranch | FlagConditional)
	def(OpIfgt, "ifgt", 3, FlagBranch | FlagConditional)
	def(OpIfle, "ifle", 3, FlagBranch | FlagConditional)
	def(OpIfIcmpeq, "if_icmpeq", 3, FlagBranch | FlagConditional)
	def(OpIfIcmpne, "if_icmpne", 3, FlagBranch | FlagConditional)
	def(OpIfIcmplt, "if_icmplt", 3, FlagBranch | FlagConditional)
	def(OpIfIcmpge, "if_icmpge", 3, FlagBranch | FlagConditional)
	def(OpIfIcmpgt, "if_icmpgt", 3, FlagBranch | FlagConditional)
	def(OpIfIcmple, "if_icmple", 3, FlagBranch | FlagConditional)
	def(OpIfAcmpeq, "if_acmpeq", 3, FlagBranch | FlagConditional)
	def(OpIfAcmpne, "if_acmpne", 3, FlagBranch | FlagConditional)
	def(OpGoto, "goto", 3, FlagBranch | FlagBlockEnd)
	def(OpJsr, "jsr", 3, FlagBranch | FlagJSR)
	def(OpRet, "ret", 2, FlagLoad | FlagBlockEnd)
	def(OpTableswitch, "tableswitch", 0, FlagSwitch | FlagBlockEnd)
	def(OpLookupswitch, "lookupswitch", 0, FlagSwitch | FlagBlockEnd)
	def(OpIreturn, "ireturn", 1, FlagReturn | FlagBlockEnd)
	def(OpLreturn, "lreturn", 1, FlagReturn | FlagBlockEnd)
	def(OpFreturn, "freturn", 1, FlagReturn | FlagBlockEnd)
	def(OpDreturn, "dreturn", 1, FlagReturn | FlagBlockEnd)
	def(OpAreturn, "areturn", 1, FlagReturn | FlagBlockEnd)
	def(OpReturn, "return", 1, FlagReturn | FlagBlockEnd)
	def(OpGetstatic, "getstatic", 3, FlagTrap | FlagFieldAccess)
	def(OpPutstatic, "putstatic", 3, FlagTrap | FlagFieldAccess)
	def(OpGetfield, "getfield", 3, FlagTrap | FlagFieldAccess)
	def(OpPutfield, "putfield", 3, FlagTrap | FlagFieldAccess)
	def(OpInvokevirtual, "invokevirtual", 3, FlagTrap | FlagInvoke)
	def(OpInvokespecial, "invokespecial", 3, FlagTrap | FlagInvoke)
	def(OpInvokestatic, "invokestatic", 3, FlagTrap | FlagInvoke)
	def(OpInvokeinterface, "invokeinterface", 5, FlagTrap | FlagInvoke)
	def(OpInvokedynamic, "invokedynamic", 5, FlagTrap | FlagInvoke)
	def(OpNew, "new", 3, FlagTrap)
	def(OpNewarray, "newarray", 2, FlagTrap)
	def(OpAnewarray, "anewarray", 3, FlagTrap)
	def(OpArraylength, "arraylength", 1, FlagTrap)
	def(OpAthrow, "athrow", 1, FlagTrap | FlagBlockEnd)
	def(OpCheckcast, "checkcast", 3, FlagTrap)
	def(OpInstanceof, "instanceof", 3, FlagTrap)
	def(OpMonitorenter, "monitorenter", 1, FlagTrap)
	def(OpMonitorexit, "monitorexit", 1, FlagTrap)
	def(OpWide, "wide", 0, 0)
	def(OpMultianewarray, "multianewarray", 4, FlagTrap)
	def(OpIfnull, "ifnull", 3, FlagBranch | FlagConditional)
	def(OpIfnonnull, "ifnonnull", 3, FlagBranch | FlagConditional)
	def(OpGotoW, "goto_w", 5, FlagBranch | FlagBlockEnd)
	def(OpJsrW, "jsr_w", 5, FlagBranch | FlagJSR)
}

// Name returns the mnemonic of op.
func (op Opcode) Name() string {
	if n := opcodeTable[op].name; n != "" {
		return n
	}
	return fmt.Sprintf("op%d", uint8(op))
}

func (op Opcode) String() string { return op.Name() }

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return opcodeTable[op].name != "" }

// Length returns the fixed instruction length, or 0 for tableswitch,
// lookupswitch and wide.
func (op Opcode) Length() int { return opcodeTable[op].length }

// Flags returns the properties of op.
func (op Opcode) Flags() OpcodeFlags { return opcodeTable[op].flags }

// Has reports whether op has all of flags.
func (op Opcode) Has(flags OpcodeFlags) bool { return opcodeTable[op].flags&flags == flags }

// IsBlockEnd reports whether control never falls through op.
func (op Opcode) IsBlockEnd() bool { return op.Has(FlagBlockEnd) }
