package runtime

import (
	"path/filepath"
	"strings"

	"judgebox/internal/domain/execution"
)

const (
	DefaultPythonImage = "python:3.11-slim"
	DefaultCPPImage    = "gcc:13"
	DefaultJavaImage   = "eclipse-temurin:17"

	cppBinaryName  = "solution"
	javaClassName  = "Solution"
	javaSourceName = javaClassName + ".java"
)

// Paths locates an artifact as seen by a particular executor. The local
// executor uses host paths; the container executor uses mount points.
type Paths struct {
	// Dir holds the source file.
	Dir string
	// Source is the full path of the source file.
	Source string
	// Build is a scratch directory for compiler output.
	Build string
}

// CommandFunc renders an argv for the given artifact paths.
type CommandFunc func(p Paths) []string

// Profile is the execution recipe for one language.
type Profile struct {
	Language   execution.Language
	Extension  string
	SourceFile string
	Image      string
	// Wrap, when set, turns submitted code into a complete compilation unit.
	Wrap func(source string) string
	// Compile is nil for interpreted languages.
	Compile CommandFunc
	Run     CommandFunc
}

// Compiled reports whether the profile has a compile step.
func (p Profile) Compiled() bool {
	return p.Compile != nil
}

// PrepareSource applies the profile's wrapping rule.
func (p Profile) PrepareSource(source string) string {
	if p.Wrap == nil {
		return source
	}
	return p.Wrap(source)
}

// Python returns the Python profile. bin is the interpreter used by both
// strategies; it must exist in the image and on the host PATH.
func Python(image, bin string) Profile {
	if image == "" {
		image = DefaultPythonImage
	}
	if bin == "" {
		bin = "python3"
	}
	return Profile{
		Language:   execution.LanguagePython,
		Extension:  ".py",
		SourceFile: "solution.py",
		Image:      image,
		Run: func(p Paths) []string {
			return []string{bin, p.Source}
		},
	}
}

// CPP returns the C++ profile.
func CPP(image string) Profile {
	if image == "" {
		image = DefaultCPPImage
	}
	return Profile{
		Language:   execution.LanguageCPP,
		Extension:  ".cpp",
		SourceFile: "solution.cpp",
		Image:      image,
		Compile: func(p Paths) []string {
			return []string{"g++", "-O2", "-std=c++17", "-o", filepath.Join(p.Build, cppBinaryName), p.Source}
		},
		Run: func(p Paths) []string {
			return []string{filepath.Join(p.Build, cppBinaryName)}
		},
	}
}

// Java returns the Java profile. Code without a Solution class is wrapped in
// one, and the source file is named after it so javac accepts it.
func Java(image string) Profile {
	if image == "" {
		image = DefaultJavaImage
	}
	return Profile{
		Language:   execution.LanguageJava,
		Extension:  ".java",
		SourceFile: javaSourceName,
		Image:      image,
		Wrap:       wrapJavaClass,
		Compile: func(p Paths) []string {
			return []string{"javac", "-d", p.Build, p.Source}
		},
		Run: func(p Paths) []string {
			return []string{"java", "-cp", p.Build, javaClassName}
		},
	}
}

func wrapJavaClass(source string) string {
	if strings.Contains(source, "class "+javaClassName) {
		return source
	}
	return "public class " + javaClassName + " {\n" + source + "\n}"
}

// DefaultProfiles returns the built-in profiles with their default images.
func DefaultProfiles() []Profile {
	return []Profile{
		Python("", ""),
		CPP(""),
		Java(""),
	}
}
