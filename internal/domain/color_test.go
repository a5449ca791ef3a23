package domain

import "testing"

func TestColorFor(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		want     RGB
	}{
		{name: "due", progress: 0, want: RGB{R: 255}},
		{name: "negative", progress: -0.3, want: RGB{R: 255}},
		{name: "midpoint is yellow", progress: 0.5, want: RGB{R: 255, G: 255}},
		{name: "green threshold", progress: 0.9, want: RGB{G: 255}},
		{name: "full", progress: 1, want: RGB{G: 255}},
		{name: "above full", progress: 1.4, want: RGB{G: 255}},
		{name: "quarter saturates red", progress: 0.25, want: RGB{R: 255, G: 128}},
		{name: "three quarters saturates green", progress: 0.75, want: RGB{R: 128, G: 255}},
		{name: "just below threshold", progress: 0.8, want: RGB{R: 102, G: 255}},
		{name: "small", progress: 0.1, want: RGB{R: 255, G: 51}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColorFor(tt.progress); got != tt.want {
				t.Fatalf("ColorFor(%v) = %v want %v", tt.progress, got, tt.want)
			}
		})
	}
}

func TestRGBString(t *testing.T) {
	if got := (RGB{R: 255, G: 128}).String(); got != "rgb(255,128,0)" {
		t.Fatalf("String() = %q", got)
	}
}
