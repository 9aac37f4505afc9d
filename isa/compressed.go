package isa

// decodeCompressed expands a 16-bit RVC encoding into the same IR shape its
// 32-bit equivalent would produce, per spec.md §3's round-trip invariant.
// Registers in quadrants 0 and the compressed-register forms of quadrant 1
// are encoded in the 3-bit "rd'/rs1'/rs2'" field, mapped to x8..x15.
func decodeCompressed(pc uint64, inst uint16) Instruction {
	quadrant := inst & 0x3
	funct3 := uint8((inst >> 13) & 0x7)

	base := Instruction{PC: pc, Raw: uint32(inst), EncodedLength: 2}

	switch quadrant {
	case 0b00:
		return decodeCompressedQuadrant0(base, inst, funct3)
	case 0b01:
		return decodeCompressedQuadrant1(base, inst, funct3)
	case 0b10:
		return decodeCompressedQuadrant2(base, inst, funct3)
	default:
		return illegal(pc, 2)
	}
}

func cReg(field uint16) uint8 {
	return uint8(8 + field)
}

func decodeCompressedQuadrant0(base Instruction, inst uint16, funct3 uint8) Instruction {
	rdp := cReg((inst >> 2) & 0x7)
	rs1p := cReg((inst >> 7) & 0x7)

	switch funct3 {
	case 0b000: // C.ADDI4SPN
		nzuimm := ((inst >> 5) & 0x1) << 3
		nzuimm |= ((inst >> 6) & 0x1) << 2
		nzuimm |= ((inst >> 7) & 0xf) << 6
		nzuimm |= ((inst >> 11) & 0x3) << 4
		if nzuimm == 0 {
			return illegal(base.PC, 2)
		}
		base.Class = OpALUImmediate
		base.Mnemonic = MnADDI
		base.Operands = Operands{Rd: rdp, Rs1: 2, Imm: int64(nzuimm)}
		return base

	case 0b010: // C.LW
		imm := cLoadStoreWordImm(inst)
		base.Class = OpLoad
		base.Mnemonic = MnLW
		base.Operands = Operands{Rd: rdp, Rs1: rs1p, Imm: imm}
		return base

	case 0b011: // C.LD
		imm := cLoadStoreDoubleImm(inst)
		base.Class = OpLoad
		base.Mnemonic = MnLD
		base.Operands = Operands{Rd: rdp, Rs1: rs1p, Imm: imm}
		return base

	case 0b110: // C.SW
		imm := cLoadStoreWordImm(inst)
		rs2p := cReg((inst >> 2) & 0x7)
		base.Class = OpStore
		base.Mnemonic = MnSW
		base.Operands = Operands{Rs1: rs1p, Rs2: rs2p, Imm: imm}
		return base

	case 0b111: // C.SD
		imm := cLoadStoreDoubleImm(inst)
		rs2p := cReg((inst >> 2) & 0x7)
		base.Class = OpStore
		base.Mnemonic = MnSD
		base.Operands = Operands{Rs1: rs1p, Rs2: rs2p, Imm: imm}
		return base

	default:
		return illegal(base.PC, 2)
	}
}

func cLoadStoreWordImm(inst uint16) int64 {
	imm := ((inst >> 6) & 0x1) << 2
	imm |= ((inst >> 10) & 0x7) << 3
	imm |= ((inst >> 5) & 0x1) << 6
	return int64(imm)
}

func cLoadStoreDoubleImm(inst uint16) int64 {
	imm := ((inst >> 10) & 0x7) << 3
	imm |= ((inst >> 5) & 0x3) << 6
	return int64(imm)
}

func decodeCompressedQuadrant1(base Instruction, inst uint16, funct3 uint8) Instruction {
	rd := uint8((inst >> 7) & 0x1f)

	switch funct3 {
	case 0b000: // C.ADDI / C.NOP
		imm := cImm6(inst)
		base.Class = OpALUImmediate
		base.Mnemonic = MnADDI
		base.Operands = Operands{Rd: rd, Rs1: rd, Imm: imm}
		return base

	case 0b001: // C.ADDIW
		imm := cImm6(inst)
		base.Class = OpALUImmediate
		base.Mnemonic = MnADDIW
		base.Operands = Operands{Rd: rd, Rs1: rd, Imm: imm}
		return base

	case 0b010: // C.LI
		imm := cImm6(inst)
		base.Class = OpALUImmediate
		base.Mnemonic = MnADDI
		base.Operands = Operands{Rd: rd, Rs1: 0, Imm: imm}
		return base

	case 0b011: // C.LUI / C.ADDI16SP
		if rd == 2 {
			imm := cAddi16SPImm(inst)
			base.Class = OpALUImmediate
			base.Mnemonic = MnADDI
			base.Operands = Operands{Rd: 2, Rs1: 2, Imm: imm}
			return base
		}
		imm := cImm6(inst) << 12
		base.Class = OpALUImmediate
		base.Mnemonic = MnLUI
		base.Operands = Operands{Rd: rd, Imm: imm}
		return base

	case 0b100:
		return decodeCompressedArith(base, inst)

	case 0b101: // C.J
		imm := cJImm(inst)
		base.Class = OpJump
		base.Mnemonic = MnJAL
		base.Operands = Operands{Rd: 0, Imm: imm}
		base.TerminatesBlock = true
		return base

	case 0b110, 0b111: // C.BEQZ / C.BNEZ
		rs1p := cReg((inst >> 7) & 0x7)
		imm := cBImm(inst)
		base.Class = OpBranch
		if funct3 == 0b110 {
			base.Mnemonic = MnBEQ
		} else {
			base.Mnemonic = MnBNE
		}
		base.Operands = Operands{Rs1: rs1p, Rs2: 0, Imm: imm}
		base.TerminatesBlock = true
		return base

	default:
		return illegal(base.PC, 2)
	}
}

func cImm6(inst uint16) int64 {
	imm := (inst >> 2) & 0x1f
	sign := (inst >> 12) & 0x1
	raw := uint32(imm) | uint32(sign)<<5
	return signExtend(raw, 6)
}

func cAddi16SPImm(inst uint16) int64 {
	imm := ((inst >> 6) & 0x1) << 4
	imm |= ((inst >> 2) & 0x1) << 5
	imm |= ((inst >> 5) & 0x1) << 6
	imm |= ((inst >> 3) & 0x3) << 7
	imm |= ((inst >> 12) & 0x1) << 9
	return signExtend(uint32(imm), 10)
}

func cJImm(inst uint16) int64 {
	b := func(bit uint16) uint16 { return (inst >> bit) & 1 }
	imm := b(3)<<1 | b(4)<<2 | b(5)<<3 | b(11)<<4 | b(2)<<5 | b(7)<<6 |
		b(6)<<7 | b(9)<<8 | b(10)<<9 | b(8)<<10 | b(12)<<11
	return signExtend(uint32(imm), 12)
}

func cBImm(inst uint16) int64 {
	b := func(bit uint16) uint16 { return (inst >> bit) & 1 }
	imm := b(3)<<1 | b(4)<<2 | b(10)<<3 | b(11)<<4 | b(2)<<5 | b(5)<<6 | b(6)<<7 | b(12)<<8
	return signExtend(uint32(imm), 9)
}

func decodeCompressedArith(base Instruction, inst uint16) Instruction {
	rdp := cReg((inst >> 7) & 0x7)
	sub := (inst >> 10) & 0x3

	switch sub {
	case 0b00: // C.SRLI
		shamt := ((inst >> 12) & 0x1) << 5
		shamt |= (inst >> 2) & 0x1f
		base.Class = OpALUImmediate
		base.Mnemonic = MnSRLI
		base.Operands = Operands{Rd: rdp, Rs1: rdp, Imm: int64(shamt)}
		return base

	case 0b01: // C.SRAI
		shamt := ((inst >> 12) & 0x1) << 5
		shamt |= (inst >> 2) & 0x1f
		base.Class = OpALUImmediate
		base.Mnemonic = MnSRAI
		base.Operands = Operands{Rd: rdp, Rs1: rdp, Imm: int64(shamt)}
		return base

	case 0b10: // C.ANDI
		imm := cImm6(inst)
		base.Class = OpALUImmediate
		base.Mnemonic = MnANDI
		base.Operands = Operands{Rd: rdp, Rs1: rdp, Imm: imm}
		return base

	case 0b11:
		rs2p := cReg((inst >> 2) & 0x7)
		funct2 := (inst >> 5) & 0x3
		isWord := (inst>>12)&0x1 != 0
		base.Class = OpALURegister
		base.Operands = Operands{Rd: rdp, Rs1: rdp, Rs2: rs2p}
		switch {
		case !isWord && funct2 == 0b00:
			base.Mnemonic = MnSUB
		case !isWord && funct2 == 0b01:
			base.Mnemonic = MnXOR
		case !isWord && funct2 == 0b10:
			base.Mnemonic = MnOR
		case !isWord && funct2 == 0b11:
			base.Mnemonic = MnAND
		case isWord && funct2 == 0b00:
			base.Mnemonic = MnSUBW
		case isWord && funct2 == 0b01:
			base.Mnemonic = MnADDW
		default:
			return illegal(base.PC, 2)
		}
		return base

	default:
		return illegal(base.PC, 2)
	}
}

func decodeCompressedQuadrant2(base Instruction, inst uint16, funct3 uint8) Instruction {
	rd := uint8((inst >> 7) & 0x1f)
	rs2 := uint8((inst >> 2) & 0x1f)

	switch funct3 {
	case 0b000: // C.SLLI
		shamt := ((inst >> 12) & 0x1) << 5
		shamt |= (inst >> 2) & 0x1f
		base.Class = OpALUImmediate
		base.Mnemonic = MnSLLI
		base.Operands = Operands{Rd: rd, Rs1: rd, Imm: int64(shamt)}
		return base

	case 0b010: // C.LWSP
		imm := cLwspImm(inst)
		base.Class = OpLoad
		base.Mnemonic = MnLW
		base.Operands = Operands{Rd: rd, Rs1: 2, Imm: imm}
		return base

	case 0b011: // C.LDSP
		imm := cLdspImm(inst)
		base.Class = OpLoad
		base.Mnemonic = MnLD
		base.Operands = Operands{Rd: rd, Rs1: 2, Imm: imm}
		return base

	case 0b100:
		hi := (inst >> 12) & 0x1
		switch {
		case hi == 0 && rs2 == 0 && rd != 0: // C.JR
			base.Class = OpJump
			base.Mnemonic = MnJALR
			base.Operands = Operands{Rd: 0, Rs1: rd, Imm: 0}
			base.TerminatesBlock = true
			return base
		case hi == 0 && rs2 != 0: // C.MV
			base.Class = OpALURegister
			base.Mnemonic = MnADD
			base.Operands = Operands{Rd: rd, Rs1: 0, Rs2: rs2}
			return base
		case hi == 1 && rd == 0 && rs2 == 0: // C.EBREAK
			base.Class = OpSystem
			base.Mnemonic = MnEBREAK
			base.TerminatesBlock = true
			return base
		case hi == 1 && rs2 == 0: // C.JALR
			base.Class = OpJump
			base.Mnemonic = MnJALR
			base.Operands = Operands{Rd: 1, Rs1: rd, Imm: 0}
			base.TerminatesBlock = true
			return base
		case hi == 1 && rs2 != 0: // C.ADD
			base.Class = OpALURegister
			base.Mnemonic = MnADD
			base.Operands = Operands{Rd: rd, Rs1: rd, Rs2: rs2}
			return base
		default:
			return illegal(base.PC, 2)
		}

	case 0b110: // C.SWSP
		imm := cSwspImm(inst)
		base.Class = OpStore
		base.Mnemonic = MnSW
		base.Operands = Operands{Rs1: 2, Rs2: rs2, Imm: imm}
		return base

	case 0b111: // C.SDSP
		imm := cSdspImm(inst)
		base.Class = OpStore
		base.Mnemonic = MnSD
		base.Operands = Operands{Rs1: 2, Rs2: rs2, Imm: imm}
		return base

	default:
		return illegal(base.PC, 2)
	}
}

func cLwspImm(inst uint16) int64 {
	imm := ((inst >> 4) & 0x7) << 2
	imm |= ((inst >> 12) & 0x1) << 5
	imm |= ((inst >> 2) & 0x3) << 6
	return int64(imm)
}

func cLdspImm(inst uint16) int64 {
	imm := ((inst >> 5) & 0x3) << 3
	imm |= ((inst >> 12) & 0x1) << 5
	imm |= ((inst >> 2) & 0x7) << 6
	return int64(imm)
}

func cSwspImm(inst uint16) int64 {
	imm := ((inst >> 9) & 0xf) << 2
	imm |= ((inst >> 7) & 0x3) << 6
	return int64(imm)
}

func cSdspImm(inst uint16) int64 {
	imm := ((inst >> 10) & 0x7) << 3
	imm |= ((inst >> 7) & 0x7) << 6
	return int64(imm)
}
