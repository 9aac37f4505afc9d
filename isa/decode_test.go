package isa

import "testing"

// sliceSource is a minimal InstructionSource backed by a byte slice, used
// to exercise the decoder without an MMU.
type sliceSource struct {
	base  uint64
	bytes []byte
}

func (s *sliceSource) FetchHalfword(pc uint64) (uint16, error) {
	off := pc - s.base
	if off+2 > uint64(len(s.bytes)) {
		return 0, errOutOfRange
	}
	return uint16(s.bytes[off]) | uint16(s.bytes[off+1])<<8, nil
}

var errOutOfRange = &rangeErr{}

type rangeErr struct{}

func (*rangeErr) Error() string { return "out of range" }

func encodeRType(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeIType(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeSType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1f)<<7 | opcode
}

func encodeUType(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | rd<<7 | opcode
}

func wordBytes(w uint32) []byte {
	return []byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)}
}

func TestDecodeADDI(t *testing.T) {
	// addi x6, x0, 10
	word := encodeIType(opOpImm, 0b000, 6, 0, 10)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.Class != OpALUImmediate || ir.Mnemonic != MnADDI {
		t.Fatalf("expected ADDI, got %s/%v", ir.Class, ir.Mnemonic)
	}
	if ir.Operands.Rd != 6 || ir.Operands.Rs1 != 0 || ir.Operands.Imm != 10 {
		t.Fatalf("unexpected operands: %+v", ir.Operands)
	}
	if ir.EncodedLength != 4 || ir.TerminatesBlock {
		t.Fatalf("unexpected shape: %+v", ir)
	}
}

func TestDecodeADD(t *testing.T) {
	word := encodeRType(opOp, 0b000, 0b0000000, 6, 6, 7)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.Mnemonic != MnADD {
		t.Fatalf("expected ADD, got %v", ir.Mnemonic)
	}
}

func TestDecodeXORINegativeOne(t *testing.T) {
	word := encodeIType(opOpImm, 0b100, 7, 7, -1)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.Mnemonic != MnXORI || ir.Operands.Imm != -1 {
		t.Fatalf("expected XORI imm=-1, got %v imm=%d", ir.Mnemonic, ir.Operands.Imm)
	}
}

func TestDecodeBranchTerminatesBlock(t *testing.T) {
	word := encodeSType(opBranch, 0b000, 1, 2, 8) // beq x1, x2, +8 (reuses S-type imm packing; funct3=000 => BEQ)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.Class != OpBranch || !ir.TerminatesBlock {
		t.Fatalf("expected terminating branch, got %+v", ir)
	}
}

func TestDecodeIllegalUnknownOpcode(t *testing.T) {
	word := uint32(0x7f) // opcode 1111111, not a valid major opcode
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode should not error, got %v", err)
	}
	if ir.Class != OpIllegal || !ir.TerminatesBlock {
		t.Fatalf("expected Illegal terminator, got %+v", ir)
	}
}

func TestDecodeNeverPanicsOnRandomBytes(t *testing.T) {
	// A corpus of arbitrary byte patterns; decoding must never panic and
	// must always return either a value or an error.
	patterns := [][]byte{
		{0x00, 0x00, 0x00, 0x00},
		{0xff, 0xff, 0xff, 0xff},
		{0x13, 0x00, 0x00, 0x00}, // addi x0,x0,0 (nop)
		{0x01, 0x00},             // a lone compressed-looking halfword
		{0x6f, 0x00, 0x00, 0x00}, // jal x0, 0
	}
	for i, p := range patterns {
		src := &sliceSource{bytes: p}
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("pattern %d panicked: %v", i, r)
				}
			}()
			_, _ = DecodeOne(src, 0)
		}()
	}
}

func TestDecodeBlockSoftCapSynthesizesTerminator(t *testing.T) {
	nop := encodeIType(opOpImm, 0b000, 0, 0, 0)
	var bytes []byte
	for i := 0; i < 10; i++ {
		bytes = append(bytes, wordBytes(nop)...)
	}
	src := &sliceSource{bytes: bytes}
	block, err := DecodeBlock(src, 0, 4)
	if err != nil {
		t.Fatalf("decode block error: %v", err)
	}
	if len(block) != 5 {
		t.Fatalf("expected 4 instructions + synthetic terminator, got %d", len(block))
	}
	if !block[len(block)-1].TerminatesBlock {
		t.Fatal("expected final IR to terminate the block")
	}
}

func TestDecodeBlockStopsAtTerminator(t *testing.T) {
	addi := encodeIType(opOpImm, 0b000, 1, 0, 1)
	jal := encodeUType(opJAL, 0, 0)
	src := &sliceSource{bytes: append(wordBytes(addi), wordBytes(jal)...)}
	block, err := DecodeBlock(src, 0, 256)
	if err != nil {
		t.Fatalf("decode block error: %v", err)
	}
	if len(block) != 2 {
		t.Fatalf("expected exactly 2 instructions, got %d", len(block))
	}
	if !block[1].TerminatesBlock {
		t.Fatal("expected JAL to terminate the block")
	}
}

func TestDecodeVsetvliThenVaddvv(t *testing.T) {
	// vsetvli x1, x2, e32,m1 -> rd=1 rs1=2 zimm bits for SEW=32(010),LMUL=1(000): 0b0_0000_0_10_000 = 0x10
	vsetvli := encodeRType(opVector, 0b111, 0, 1, 2, 0) | (0x10 << 20)
	vadd := encodeRType(opVector, 0b000, 0b000000, 3, 5, 4) // vadd.vv v3, v4, v5
	src := &sliceSource{bytes: append(wordBytes(vsetvli), wordBytes(vadd)...)}

	ir1, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir1.Class != OpVectorConfig || ir1.Mnemonic != MnVSETVLI {
		t.Fatalf("expected VSETVLI, got %+v", ir1)
	}

	ir2, err := DecodeOne(src, 4)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir2.Class != OpVectorALU || ir2.Mnemonic != MnVADDVV {
		t.Fatalf("expected VADDVV, got %+v", ir2)
	}
}

func TestDecodeCompressedAddi(t *testing.T) {
	// c.li x6, 5: quadrant=01 funct3=010 rd=6 imm=5
	// layout: funct3(3) imm[5](1) rd(5) imm[4:0](5) op(2)
	inst := uint16(0b010) << 13
	inst |= uint16(0) << 12 // imm[5]=0
	inst |= uint16(6) << 7
	inst |= uint16(5) << 2
	inst |= 0b01
	src := &sliceSource{bytes: []byte{byte(inst), byte(inst >> 8)}}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.EncodedLength != 2 {
		t.Fatalf("expected compressed 2-byte length, got %d", ir.EncodedLength)
	}
	if ir.Mnemonic != MnADDI || ir.Operands.Rd != 6 || ir.Operands.Imm != 5 {
		t.Fatalf("expected C.LI expansion to ADDI x6,x0,5, got %+v", ir.Operands)
	}
}

func TestDecodeReservedWidthMarkerIsIllegal(t *testing.T) {
	// bits [1:0] of both halfwords must read 0b11 to reach the standard
	// decoder, and bits [4:2] of the assembled word must read 0b111 to mark
	// a reserved >=48-bit encoding; 0xFFFFFFFF satisfies both.
	src := &sliceSource{bytes: wordBytes(0xFFFFFFFF)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode should not error, got %v", err)
	}
	if ir.Class != OpIllegal || !ir.TerminatesBlock {
		t.Fatalf("expected reserved-width encoding to decode as Illegal, got %+v", ir)
	}
}

func TestDecodeFLWIsIllegalNotMisreadAsVectorLoad(t *testing.T) {
	// flw f1, 0(x2): opLoadFP with funct3=010, a scalar width code shared
	// with the vector unit-stride opcode. Scalar floating-point is not
	// modeled, so this must decode as Illegal rather than as MnVLE.
	word := encodeIType(opLoadFP, 0b010, 1, 2, 0)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode should not error, got %v", err)
	}
	if ir.Class != OpIllegal {
		t.Fatalf("expected FLW to decode as Illegal, got %+v", ir)
	}
}

func TestDecodeVectorUnitStrideLoadStillDecodes(t *testing.T) {
	// vle32.v v1, (x2): opLoadFP with funct3=110 (vector unit-stride width
	// code), must still reach decodeVectorLoad after the funct3 gate.
	word := encodeIType(opLoadFP, 0b110, 1, 2, 0)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.Class != OpVectorLoadStore || ir.Mnemonic != MnVLE {
		t.Fatalf("expected vector load, got %+v", ir)
	}
}

func TestX0WritesAreSpecHonored(t *testing.T) {
	// the decoder itself does not enforce the x0-write invariant (that is
	// the register file's job, see state.File) but it must still decode an
	// instruction targeting x0 without special-casing it away.
	word := encodeIType(opOpImm, 0b000, 0, 5, 1)
	src := &sliceSource{bytes: wordBytes(word)}
	ir, err := DecodeOne(src, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ir.Operands.Rd != 0 {
		t.Fatalf("expected Rd=0 to decode through unchanged, got %d", ir.Operands.Rd)
	}
}
