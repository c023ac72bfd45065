package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Prefixed("[sqlite] ")

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	logf("saved run %s", "abc")
	if len(got) != 1 || got[0] != "[sqlite] saved run abc" {
		t.Errorf("got %q, want one prefixed line", got)
	}

	SetLogger(nil)
	logf("dropped")
	if len(got) != 1 {
		t.Errorf("muted logger still recorded %q", got)
	}
}
