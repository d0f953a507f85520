package stt

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 320)
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("missing RIFF/WAVE/data markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 320 {
		t.Errorf("data size = %d", got)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if RMS(nil) != 0 {
		t.Error("RMS(nil) should be 0")
	}
	loud := make([]byte, 4)
	binary.LittleEndian.PutUint16(loud[0:2], uint16(1000))
	binary.LittleEndian.PutUint16(loud[2:4], uint16(0xFFFF-999)) // -1000
	if got := RMS(loud); got < 999 || got > 1001 {
		t.Errorf("RMS = %f, want ~1000", got)
	}
}

func TestPCMDuration(t *testing.T) {
	t.Parallel()

	if got := PCMDuration(32000, 16000, 1); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
	if got := PCMDuration(96000, 48000, 0); got != time.Second {
		t.Errorf("duration with default channels = %v", got)
	}
}

func TestAudio_Upload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime     string
		filename string
		wrapped  bool
	}{
		{"audio/L16; rate=16000", "audio.wav", true},
		{"audio/webm;codecs=opus", "audio.webm", false},
		{"audio/mpeg", "audio.mp3", false},
		{"audio/wav", "audio.wav", false},
		{"", "audio.wav", false},
	}
	for _, tt := range tests {
		a := Audio{Data: []byte{1, 2, 3, 4}, MIMEType: tt.mime}
		data, name := a.Upload()
		if name != tt.filename {
			t.Errorf("%q: filename = %q, want %q", tt.mime, name, tt.filename)
		}
		if wrapped := !bytes.Equal(data, a.Data); wrapped != tt.wrapped {
			t.Errorf("%q: wrapped = %v, want %v", tt.mime, wrapped, tt.wrapped)
		}
	}
}
