package hal

import (
	"sync"
	"testing"
)

func TestSpeedString(t *testing.T) {
	tests := []struct {
		speed Speed
		want  string
	}{
		{SpeedUnknown, "Unknown"},
		{SpeedLow, "Low Speed"},
		{SpeedFull, "Full Speed"},
		{SpeedHigh, "High Speed"},
		{Speed(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.speed.String(); got != tt.want {
			t.Errorf("Speed(%d).String() = %q, want %q", tt.speed, got, tt.want)
		}
	}
}

func TestParseSetupPacket(t *testing.T) {
	raw := []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}
	var s SetupPacket
	if !ParseSetupPacket(raw, &s) {
		t.Fatal("ParseSetupPacket() = false")
	}
	if s.RequestType != 0x80 || s.Request != 0x06 || s.Value != 0x0100 || s.Length != 0x12 {
		t.Errorf("ParseSetupPacket() = %+v", s)
	}
	if !s.IsIn() {
		t.Error("IsIn() = false, want true")
	}
	if got := s.Bytes(); string(got[:]) != string(raw) {
		t.Errorf("Bytes() = % X, want % X", got, raw)
	}
	if ParseSetupPacket(raw[:7], &s) {
		t.Error("ParseSetupPacket(short) = true")
	}
}

func TestMutexCritical(t *testing.T) {
	var c MutexCritical
	var wg sync.WaitGroup
	n := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s := c.Enter()
				n++
				c.Exit(s)
			}
		}()
	}
	wg.Wait()
	if n != 8000 {
		t.Errorf("n = %d, want 8000", n)
	}
}
