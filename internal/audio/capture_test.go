package audio

import "testing"

func TestMicrophone_StopClosesFrameChannelOnce(t *testing.T) {
	m := NewMicrophone(48000, 1)
	frames := make(chan []int16, 4)
	m.frames = frames

	m.Stop()

	select {
	case _, ok := <-frames:
		if ok {
			t.Fatal("expected the frame channel closed, got a frame")
		}
	default:
		t.Fatal("frame channel still open after Stop")
	}

	// A second Stop must not close the channel again.
	m.Stop()
}

func TestMicrophone_StopWithoutStartIsSafe(t *testing.T) {
	NewMicrophone(48000, 1).Stop()
}

func TestBytesToPCM16(t *testing.T) {
	in := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}
	got := bytesToPCM16(in)
	want := []int16{1, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}
