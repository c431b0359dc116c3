package listener

import (
	"errors"
	"strings"
	"testing"

	"notibridge/pkg/logx"
)

func TestNewSelectsPlatformVariant(t *testing.T) {
	t.Parallel()

	l, err := New("linux", logx.Nop())
	if err != nil {
		t.Fatalf("linux: %v", err)
	}
	if _, ok := l.(*LinuxListener); !ok {
		t.Fatalf("linux listener type = %T", l)
	}

	w, err := New("windows", logx.Nop())
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	if _, ok := w.(*WindowsListener); !ok {
		t.Fatalf("windows listener type = %T", w)
	}
}

func TestNewReturnsFreshInstances(t *testing.T) {
	t.Parallel()

	a, _ := New("linux", logx.Nop())
	b, _ := New("linux", logx.Nop())
	if a == b {
		t.Fatal("expected a fresh listener per call")
	}
}

func TestNewUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	for _, goos := range []string{"darwin", "plan9", ""} {
		_, err := New(goos, logx.Nop())
		if err == nil {
			t.Fatalf("%q: expected error", goos)
		}
		if !errors.Is(err, ErrUnsupportedPlatform) {
			t.Fatalf("%q: error = %v, want ErrUnsupportedPlatform", goos, err)
		}
		if goos != "" && !strings.Contains(err.Error(), goos) {
			t.Fatalf("error %q does not name platform %q", err, goos)
		}
	}
}
