package state

import "testing"

func TestX0WritesDiscarded(t *testing.T) {
	f := New(128)
	f.SetX(0, 0xdeadbeef)
	if f.GetX(0) != 0 {
		t.Fatalf("expected x0 to remain 0, got %#x", f.GetX(0))
	}
}

func TestSetXRoundTrip(t *testing.T) {
	f := New(128)
	f.SetX(6, 168)
	f.SetX(7, 0xFFFFFFFFFFFFFFF4)
	if f.GetX(6) != 168 {
		t.Fatalf("expected x6=168, got %d", f.GetX(6))
	}
	if f.GetX(7) != 0xFFFFFFFFFFFFFFF4 {
		t.Fatalf("expected x7=0xFFFFFFFFFFFFFFF4, got %#x", f.GetX(7))
	}
}

func TestVectorRegistersSizedByVLEN(t *testing.T) {
	f := New(256)
	if len(f.V[0]) != 32 {
		t.Fatalf("expected 32-byte vector registers for VLEN=256, got %d", len(f.V[0]))
	}
}

func TestVtypeFingerprintDistinguishesConfigs(t *testing.T) {
	a := Vtype{SEW: 32, LMUL: 1}
	b := Vtype{SEW: 64, LMUL: 1}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected distinct fingerprints for distinct SEW")
	}
}

func TestClearReservationDropsReservation(t *testing.T) {
	f := New(128)
	f.ReservationValid = true
	f.ReservationAddr = 0x1000
	f.ClearReservation()
	if f.ReservationValid {
		t.Fatal("expected reservation to be cleared")
	}
}

func TestTrapRecordsCause(t *testing.T) {
	f := New(128)
	f.Trap(13, 0x8000, 0x9000)
	if f.Mcause != 13 || f.Mepc != 0x8000 || f.Mtval != 0x9000 {
		t.Fatalf("unexpected trap state: %+v", f)
	}
}
