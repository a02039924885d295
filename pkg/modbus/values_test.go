package modbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestRegistersToUint32(t *testing.T) {
	regs := []uint16{0x0001, 0x86A0, 0x0002, 0x0003}

	hi, err := RegistersToUint32(regs, HighWordFirst)
	if err != nil {
		t.Fatal(err)
	}
	if hi[0] != 100000 || hi[1] != 0x00020003 {
		t.Fatalf("HighWordFirst = %v, want [100000 131075]", hi)
	}

	lo, err := RegistersToUint32(regs, LowWordFirst)
	if err != nil {
		t.Fatal(err)
	}
	if lo[0] != 0x86A00001 {
		t.Fatalf("LowWordFirst[0] = %#08x, want 0x86A00001", lo[0])
	}
}

func TestRegistersToUint32RejectsOddCount(t *testing.T) {
	_, err := RegistersToUint32([]uint16{1, 2, 3}, HighWordFirst)
	if !errors.Is(err, ErrOddRegisterCount) {
		t.Fatalf("err = %v, want ErrOddRegisterCount", err)
	}
}

func TestBitsToBytesRoundTrip(t *testing.T) {
	data := []byte{0xA5, 0x01}
	bits := DecodeBits(data, 10)
	repacked := BitsToBytes(bits)
	if !bytes.Equal(repacked, []byte{0xA5, 0x01}) {
		t.Fatalf("BitsToBytes(DecodeBits(%v)) = %v, want the original bytes", data, repacked)
	}
}

func TestDecodeBitsTrimsToQuantity(t *testing.T) {
	bits := DecodeBits([]byte{0xFF, 0xFF}, 10)
	if len(bits) != 10 {
		t.Fatalf("DecodeBits exposes %d bits, want exactly quantity=10", len(bits))
	}
}
