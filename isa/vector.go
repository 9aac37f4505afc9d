package isa

// decodeVectorOp classifies the OP-V major opcode: vset{i}vli/vsetvl
// configuration instructions and the vector arithmetic family (OPIVV,
// OPIVX, OPIVI, OPMVV, OPMVX). The floating-point forms OPFVV/OPFVF
// (funct3 001/101) are not decoded and become Illegal.
func decodeVectorOp(base Instruction, word uint32, funct3, rd, rs1, rs2 uint8) Instruction {
	vm := field(word, 25, 25) == 1 // vm=0 means masked by v0, so Vm is true only when unmasked
	funct6 := uint8(field(word, 31, 26))

	if funct3 == 0b111 {
		return decodeVsetVariant(base, word, rd, rs1)
	}

	base.Class = OpVectorALU
	base.Operands = Operands{
		Vd:     rd,
		Vs2:    rs2,
		Funct3: funct3,
		Funct6: funct6,
		Vm:     vm,
	}

	switch funct3 {
	case 0b000: // OPIVV
		base.Operands.Vs1 = rs1
		base.Mnemonic = vectorMnemonicFromFunct6(funct6, false)
	case 0b100: // OPIVX
		base.Operands.Rs1 = rs1
		base.Mnemonic = vectorMnemonicFromFunct6(funct6, true)
	case 0b011: // OPIVI
		base.Operands.Imm = signExtend(uint32(rs1), 5)
		base.Mnemonic = vectorImmMnemonicFromFunct6(funct6)
	case 0b010: // OPMVV
		base.Operands.Vs1 = rs1
		base.Mnemonic = vectorMnemonicFromFunct6(funct6, false)
	case 0b110: // OPMVX
		base.Operands.Rs1 = rs1
		base.Mnemonic = vectorMnemonicFromFunct6(funct6, true)
	default:
		return illegal(base.PC, 4)
	}
	return base
}

func vectorMnemonicFromFunct6(funct6 uint8, reg bool) Mnemonic {
	switch funct6 {
	case 0b000000:
		if reg {
			return MnVADDVX
		}
		return MnVADDVV
	case 0b000010:
		return MnVSUBVV
	case 0b100101:
		return MnVMULVV
	default:
		return MnIllegal
	}
}

func vectorImmMnemonicFromFunct6(funct6 uint8) Mnemonic {
	if funct6 == 0b000000 {
		return MnVADDVI
	}
	return MnIllegal
}

// decodeVsetVariant distinguishes VSETVLI / VSETIVLI / VSETVL, all of which
// share funct3==111 on the OP-V opcode.
func decodeVsetVariant(base Instruction, word uint32, rd, rs1 uint8) Instruction {
	base.Class = OpVectorConfig
	base.TerminatesBlock = false // handled by the translator flushing its abstract vtype, not a control-flow exit

	switch {
	case field(word, 31, 31) == 0:
		// VSETVLI: rd, rs1, zimm[10:0] in bits 30:20
		base.Mnemonic = MnVSETVLI
		base.Operands = Operands{Rd: rd, Rs1: rs1, Imm: int64(field(word, 30, 20))}
	case field(word, 31, 30) == 0b11:
		// VSETIVLI: rd, uimm[4:0]=rs1 field, zimm[9:0] in bits 29:20
		base.Mnemonic = MnVSETIVLI
		base.Operands = Operands{Rd: rd, Imm: int64(field(word, 29, 20)), Rs1: rs1}
	default:
		// VSETVL: rd, rs1, rs2
		base.Mnemonic = MnVSETVL
		base.Operands = Operands{Rd: rd, Rs1: rs1, Rs2: uint8(field(word, 24, 20))}
	}
	return base
}

// VectorLoadStoreMode distinguishes the addressing modes spec.md §4.2 names.
type VectorLoadStoreMode int

const (
	VLSUnitStride VectorLoadStoreMode = iota
	VLSStrided
	VLSIndexedUnordered
	VLSIndexedOrdered
)

func decodeVectorLoad(base Instruction, word uint32, funct3, rd, rs1 uint8) Instruction {
	mop := field(word, 27, 26)
	vm := field(word, 25, 25) == 1
	width := funct3 // element width encoding

	base.Class = OpVectorLoadStore
	base.Mnemonic = MnVLE
	base.Operands = Operands{
		Vd:     rd,
		Rs1:    rs1,
		Funct3: uint8(width),
		Vm:     vm,
		Imm:    int64(mop), // raw mop field (addressing mode); the translator lowers only 0, unit-stride
	}
	return base
}

func decodeVectorStore(base Instruction, word uint32, funct3, rs1, rs2 uint8) Instruction {
	mop := field(word, 27, 26)
	vm := field(word, 25, 25) == 1
	vs3 := uint8(field(word, 11, 7))

	base.Class = OpVectorLoadStore
	base.Mnemonic = MnVSE
	base.Operands = Operands{
		Vs2:    vs3,
		Rs1:    rs1,
		Vs1:    rs2, // index register for indexed stores
		Funct3: funct3,
		Vm:     vm,
		Imm:    int64(mop),
	}
	return base
}
