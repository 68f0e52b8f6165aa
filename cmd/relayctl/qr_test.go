package main

import (
	"strings"
	"testing"

	"github.com/skip2/go-qrcode"
)

func TestRenderQR(t *testing.T) {
	out, err := renderQR("2@abc,def,ghi")
	if err != nil {
		t.Fatal(err)
	}

	qr, err := qrcode.New("2@abc,def,ghi", qrcode.Low)
	if err != nil {
		t.Fatal(err)
	}
	rows := len(qr.Bitmap())

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if want := (rows + 1) / 2; len(lines) != want {
		t.Fatalf("got %d lines, want %d", len(lines), want)
	}
	for i, line := range lines {
		if got := len([]rune(line)); got != rows+2 {
			t.Fatalf("line %d has %d runes, want %d", i, got, rows+2)
		}
	}
	if !strings.ContainsRune(out, '█') {
		t.Error("rendered QR has no full blocks")
	}
}
