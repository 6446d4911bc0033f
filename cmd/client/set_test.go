package main

import "testing"

func TestParseOnOff(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"AUTO", true, false},
		{"1", true, false},
		{"off", false, false},
		{"Manual", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseOnOff(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseOnOff(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOnOff(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPixelFormatIndex(t *testing.T) {
	tests := []struct {
		in   string
		want uint8
	}{
		{"0", 0},
		{"3", 3},
		{"bgr8", 2},
		{"Mono8", 4},
		{"BayerRG12", 1},
	}
	for _, tt := range tests {
		got, err := pixelFormatIndex(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("pixelFormatIndex(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := pixelFormatIndex("YUV422"); err == nil {
		t.Error("unknown format name accepted")
	}
}

func TestMode(t *testing.T) {
	if mode(0) != "auto" || mode(1) != "manual" {
		t.Errorf("mode(0), mode(1) = %q, %q", mode(0), mode(1))
	}
}
