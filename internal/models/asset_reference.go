package models

import (
	"regexp"
	"strings"
)

// assetReferencePattern matches "course/assets/<file>" and "course/<lang>/assets/<file>"
var assetReferencePattern = regexp.MustCompile(`course/(?:([A-Za-z]{2}(?:[-_][A-Za-z]{2})?)/)?assets/([\w\-.%]+)`)

// AssetReference is a typed asset path found inside a string value of course content
type AssetReference struct {
	Language string
	Filename string
}

// BuildPath returns the build-relative path of the referenced file for a language
func (r AssetReference) BuildPath(lang string) string {
	return AssetBuildPath(lang, r.Filename)
}

// AssetBuildPath returns "course/<lang>/assets/<name>"
func AssetBuildPath(lang, name string) string {
	return "course/" + lang + "/assets/" + name
}

// ParseAssetReference parses a value that is exactly one asset reference
func ParseAssetReference(s string) (AssetReference, bool) {
	loc := assetReferencePattern.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 || loc[1] != len(s) {
		return AssetReference{}, false
	}
	ref, ok := referenceFromMatch(s, loc)
	if !ok || loc[4]+len(ref.Filename) != len(s) {
		return AssetReference{}, false
	}
	return ref, true
}

// FindAssetReferences returns every asset reference embedded in s
func FindAssetReferences(s string) []AssetReference {
	var refs []AssetReference
	for _, loc := range assetReferencePattern.FindAllStringSubmatchIndex(s, -1) {
		if ref, ok := referenceFromMatch(s, loc); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ReplaceAssetReferences rewrites each reference in s for which replace returns true
func ReplaceAssetReferences(s string, replace func(AssetReference) (string, bool)) string {
	matches := assetReferencePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range matches {
		ref, ok := referenceFromMatch(s, loc)
		if !ok {
			continue
		}
		replacement, ok := replace(ref)
		if !ok {
			continue
		}
		end := loc[4] + len(ref.Filename)
		b.WriteString(s[last:loc[0]])
		b.WriteString(replacement)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func referenceFromMatch(s string, loc []int) (AssetReference, bool) {
	ref := AssetReference{}
	if loc[2] >= 0 {
		ref.Language = s[loc[2]:loc[3]]
	}
	// sentence punctuation directly after a filename is not part of it
	ref.Filename = strings.TrimRight(s[loc[4]:loc[5]], ".")
	if ref.Filename == "" || !strings.Contains(ref.Filename, ".") {
		return AssetReference{}, false
	}
	return ref, true
}
