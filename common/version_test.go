package common

import (
	"strings"
	"testing"
)

func TestVersionStringNoPre(t *testing.T) {
	var version = Version{
		Major:      1,
		Minor:      2,
		Patch:      3,
		Prerelease: "",
	}

	actual := version.String()
	expected := "1.2.3"

	if actual != expected {
		t.Fatalf("Incorrect version string. Actual: %s, expected: %s", actual, expected)
	}
}

func TestVersionStringPre(t *testing.T) {
	version := Version{
		Major:      1,
		Minor:      2,
		Patch:      3,
		Prerelease: "-pre",
	}

	actual := version.String()
	expected := "1.2.3-pre"

	if actual != expected {
		t.Fatalf("Incorrect version string. Actual: %s, expected: %s", actual, expected)
	}
}

func TestBanner(t *testing.T) {
	b := Banner()
	if !strings.HasPrefix(b, "etf "+GetAppVersion().String()) {
		t.Fatalf("unexpected banner %q", b)
	}
	if !strings.Contains(b, "commit none") {
		t.Fatalf("unexpected banner %q", b)
	}
}
