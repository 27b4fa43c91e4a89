package runtime

import (
	"errors"
	"strings"
	"testing"

	"judgebox/internal/domain/execution"
)

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		profiles []Profile
		match    string
	}{
		{"empty", nil, "at least one"},
		{"missing language", []Profile{{SourceFile: "a", Image: "x", Run: func(Paths) []string { return nil }}}, "missing language"},
		{"duplicate", []Profile{Python("", ""), Python("", "")}, "duplicate"},
		{"missing run", []Profile{{Language: "x", SourceFile: "a", Image: "x"}}, "missing run"},
		{"missing image", []Profile{{Language: "x", SourceFile: "a", Run: func(Paths) []string { return nil }}}, "missing image"},
	}

	for _, tc := range cases {
		_, err := NewRegistry(tc.profiles...)
		if err == nil || !strings.Contains(err.Error(), tc.match) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.match, err)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(DefaultProfiles()...)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	profile, err := reg.Resolve(execution.LanguageCPP)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if profile.Extension != ".cpp" || !profile.Compiled() {
		t.Fatalf("unexpected cpp profile: %+v", profile)
	}

	_, err = reg.Resolve("brainfuck")
	if !errors.Is(err, execution.ErrUnsupportedLanguage) {
		t.Fatalf("expected unsupported language error, got %v", err)
	}
}

func TestRegistryLanguagesSorted(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(DefaultProfiles()...)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	got := reg.Languages()
	want := []execution.Language{execution.LanguageCPP, execution.LanguageJava, execution.LanguagePython}
	if len(got) != len(want) {
		t.Fatalf("expected %d languages, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected language at %d: got %q want %q", i, got[i], want[i])
		}
	}
}
