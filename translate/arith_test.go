package translate

import (
	"bytes"
	"testing"

	"github.com/lookbusy1344/rv2wasm/isa"
)

func newTestBlockCtx() *blockCtx {
	b := newBuilder()
	return &blockCtx{b: b, regs: newRegFile(b), vlenBytes: 16}
}

func TestLowerALUMulWSignExtends(t *testing.T) {
	c := newTestBlockCtx()
	ir := isa.Instruction{
		PC: 0x1000, Class: isa.OpALURegister, Mnemonic: isa.MnMULW,
		Operands: isa.Operands{Rd: 5, Rs1: 6, Rs2: 7}, EncodedLength: 4,
	}
	if err := c.lowerALU(ir); err != nil {
		t.Fatalf("lowerALU: %v", err)
	}
	if !bytes.Contains(c.b.code, []byte{opI64Mul}) {
		t.Fatal("expected MULW to emit an i64.mul")
	}
	if !bytes.Contains(c.b.code, []byte{opI32WrapI64, 0xAC}) {
		t.Fatal("expected MULW's result to be truncated and sign-extended to 32 bits")
	}
}

func TestLowerALUDivWByZeroUsesAllOnes(t *testing.T) {
	c := newTestBlockCtx()
	ir := isa.Instruction{
		PC: 0x1000, Class: isa.OpALURegister, Mnemonic: isa.MnDIVW,
		Operands: isa.Operands{Rd: 5, Rs1: 6, Rs2: 7}, EncodedLength: 4,
	}
	if err := c.lowerALU(ir); err != nil {
		t.Fatalf("lowerALU: %v", err)
	}
	if !bytes.Contains(c.b.code, []byte{opI64Const, 0x7F}) {
		t.Fatal("expected DIVW's divide-by-zero branch to push the all-ones quotient constant")
	}
}

func TestLowerALURemuWSignExtendsResult(t *testing.T) {
	c := newTestBlockCtx()
	ir := isa.Instruction{
		PC: 0x1000, Class: isa.OpALURegister, Mnemonic: isa.MnREMUW,
		Operands: isa.Operands{Rd: 5, Rs1: 6, Rs2: 7}, EncodedLength: 4,
	}
	if err := c.lowerALU(ir); err != nil {
		t.Fatalf("lowerALU: %v", err)
	}
	if !bytes.Contains(c.b.code, []byte{opI64RemU}) {
		t.Fatal("expected REMUW to lower to i64.rem_u over zero-extended 32-bit operands")
	}
	if !bytes.Contains(c.b.code, []byte{opI32WrapI64, 0xAC}) {
		t.Fatal("expected REMUW's result to be truncated and sign-extended to 32 bits")
	}
}

func TestLowerALUUnhandledMnemonicStillErrors(t *testing.T) {
	c := newTestBlockCtx()
	ir := isa.Instruction{PC: 0x1000, Class: isa.OpALURegister, Mnemonic: isa.MnNone, EncodedLength: 4}
	if err := c.lowerALU(ir); err == nil {
		t.Fatal("expected an error for a genuinely unhandled ALU mnemonic")
	}
}
