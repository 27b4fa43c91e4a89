package runtime

import (
	"fmt"
	"sort"

	"judgebox/internal/domain/execution"
)

// Registry maps language identifiers to their profiles. It is immutable after
// construction and safe for concurrent lookups.
type Registry struct {
	profiles map[execution.Language]Profile
}

// NewRegistry constructs a registry from the supplied profiles.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	reg := &Registry{
		profiles: make(map[execution.Language]Profile, len(profiles)),
	}

	for _, profile := range profiles {
		lang := profile.Language
		if lang == "" {
			return nil, fmt.Errorf("language profile missing language identifier")
		}
		if _, exists := reg.profiles[lang]; exists {
			return nil, fmt.Errorf("duplicate language profile for %q", lang)
		}
		if profile.Run == nil {
			return nil, fmt.Errorf("language profile %q missing run command", lang)
		}
		if profile.SourceFile == "" {
			return nil, fmt.Errorf("language profile %q missing source file name", lang)
		}
		if profile.Image == "" {
			return nil, fmt.Errorf("language profile %q missing image", lang)
		}

		reg.profiles[lang] = profile
	}

	if len(reg.profiles) == 0 {
		return nil, fmt.Errorf("at least one language profile must be registered")
	}

	return reg, nil
}

// Resolve returns the profile for lang or an error matching
// execution.ErrUnsupportedLanguage.
func (r *Registry) Resolve(lang execution.Language) (Profile, error) {
	profile, ok := r.profiles[lang]
	if !ok {
		return Profile{}, execution.UnsupportedLanguage(lang)
	}
	return profile, nil
}

// Languages lists registered language identifiers in lexical order.
func (r *Registry) Languages() []execution.Language {
	langs := make([]execution.Language, 0, len(r.profiles))
	for lang := range r.profiles {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}
