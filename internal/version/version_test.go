package version

import "testing"

func TestString(t *testing.T) {
	got := String("vislam-inspect")
	want := "vislam-inspect dev (unknown, built unknown)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
