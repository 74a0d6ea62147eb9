package autoupdate

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// versionPartsRegex splits a version into its numeric/word components
var versionPartsRegex = regexp.MustCompile(`[._-]`)

// TemplateVars holds the substitution variables of an autoupdate template.
// Keys are stored lowercase without the leading '$'.
type TemplateVars map[string]string

// NewTemplateVars builds the variables derived from a version string plus the
// named captures of the regex that discovered it (exposed as $match<Name>).
func NewTemplateVars(version string, captures map[string]string) TemplateVars {
	vars := TemplateVars{
		"version":           version,
		"cleanversion":      strings.NewReplacer(".", "", "-", "").Replace(version),
		"underscoreversion": strings.ReplaceAll(version, ".", "_"),
		"dashversion":       strings.ReplaceAll(version, ".", "-"),
	}

	parts := versionPartsRegex.Split(version, -1)
	names := []string{"majorversion", "minorversion", "patchversion", "buildversion"}
	for i, name := range names {
		if i < len(parts) {
			vars[name] = parts[i]
		} else {
			vars[name] = ""
		}
	}

	if i := strings.IndexByte(version, '-'); i >= 0 {
		vars["prereleaseversion"] = version[i+1:]
	} else {
		vars["prereleaseversion"] = ""
	}

	for name, value := range captures {
		if name == "" {
			continue
		}
		vars["match"+strings.ToLower(name)] = value
	}

	return vars
}

// WithURL returns a copy of vars extended with $url, $baseurl and $basename
// for the given download URL. Used when expanding hash rule templates.
func (v TemplateVars) WithURL(downloadURL string) TemplateVars {
	out := make(TemplateVars, len(v)+3)
	for k, val := range v {
		out[k] = val
	}

	trimmed := downloadURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	out["url"] = downloadURL
	out["basename"] = path.Base(trimmed)
	out["baseurl"] = strings.TrimSuffix(trimmed, "/"+path.Base(trimmed))
	return out
}

// Expand substitutes $variables in tpl. Variable names are matched
// case-insensitively, longest name first, so "$versionX" expands $version.
// Unknown variables are left as they are.
func (v TemplateVars) Expand(tpl string) string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	var b strings.Builder
	for i := 0; i < len(tpl); {
		if tpl[i] != '$' {
			b.WriteByte(tpl[i])
			i++
			continue
		}

		matched := false
		for _, name := range names {
			end := i + 1 + len(name)
			if end <= len(tpl) && strings.EqualFold(tpl[i+1:end], name) {
				b.WriteString(v[name])
				i = end
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte('$')
			i++
		}
	}
	return b.String()
}
