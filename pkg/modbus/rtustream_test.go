package modbus

import "testing"

func TestRTUFrameStreamYieldsSingleFrame(t *testing.T) {
	frame := WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
	s := NewRTUFrameStream()
	got := s.Feed(frame)
	if len(got) != 1 {
		t.Fatalf("Feed = %d frames, want 1", len(got))
	}
	if string(got[0]) != string(frame) {
		t.Fatalf("yielded frame = %v, want %v", got[0], frame)
	}
}

func TestRTUFrameStreamResynchronisesPastNoise(t *testing.T) {
	frame := WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
	noise := []byte{0xFF, 0xFF, 0x00}
	s := NewRTUFrameStream()
	got := s.Feed(append(append([]byte{}, noise...), frame...))
	if len(got) != 1 {
		t.Fatalf("Feed(noise+frame) = %d frames, want exactly [f]", len(got))
	}
	if string(got[0]) != string(frame) {
		t.Fatalf("yielded frame = %v, want %v", got[0], frame)
	}
}

func TestRTUFrameStreamPartialChunksReassemble(t *testing.T) {
	frame := WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
	s := NewRTUFrameStream()
	if got := s.Feed(frame[:3]); len(got) != 0 {
		t.Fatalf("partial chunk yielded %d frames, want 0", len(got))
	}
	got := s.Feed(frame[3:])
	if len(got) != 1 || string(got[0]) != string(frame) {
		t.Fatalf("completed frame = %v, want %v", got, frame)
	}
}

func TestRTUFrameStreamDropsBadCRCAndRecovers(t *testing.T) {
	bad := WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
	bad[len(bad)-1] ^= 0xFF // corrupt CRC
	good := WrapRTU([]byte{0x02, 0x03, 0x02, 0x00, 0x0A})

	s := NewRTUFrameStream()
	got := s.Feed(append(append([]byte{}, bad...), good...))
	if len(got) != 1 {
		t.Fatalf("Feed = %d frames, want 1 (bad frame discarded)", len(got))
	}
	pf, err := ParseRTU(got[0])
	if err != nil || pf.SlaveID != 2 {
		t.Fatalf("surviving frame = %v err=%v, want slave 2", got[0], err)
	}
}

func TestRTUFrameStreamMultipleFramesInOneChunk(t *testing.T) {
	f1 := WrapRTU([]byte{0x01, 0x03, 0x02, 0x00, 0x0A})
	f2 := WrapRTU([]byte{0x02, 0x03, 0x02, 0x00, 0x0B})
	s := NewRTUFrameStream()
	got := s.Feed(append(append([]byte{}, f1...), f2...))
	if len(got) != 2 {
		t.Fatalf("Feed = %d frames, want 2", len(got))
	}
}
