package player

import (
	"math"
	"testing"
)

func TestLevelToVolume(t *testing.T) {
	tests := []struct {
		level float64
		want  float64
	}{
		{1, 0},
		{1.5, 0},
		{0.5, -1},
		{0.25, -2},
		{0, silentVolume},
		{-1, silentVolume},
		{1e-9, silentVolume},
	}

	for _, tt := range tests {
		if got := levelToVolume(tt.level); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("levelToVolume(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSniffCodec(t *testing.T) {
	tests := []struct {
		head []byte
		want codec
	}{
		{[]byte("fLaC"), codecFLAC},
		{[]byte{0xff, 0xfb, 0x90, 0x00}, codecMP3},
		{[]byte("fL"), codecMP3},
		{nil, codecMP3},
	}

	for _, tt := range tests {
		if got := sniffCodec(tt.head); got != tt.want {
			t.Errorf("sniffCodec(%q) = %v, want %v", tt.head, got, tt.want)
		}
	}
}
