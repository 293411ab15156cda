package agent

import (
	"sort"
	"strings"
)

// minSecretLen keeps short values such as "1" or "true" from being
// scrubbed out of every tool result.
const minSecretLen = 8

// Redactor replaces known credential values with a named placeholder, so
// that a model running `env` never sees the keys it is being called with.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a redactor from name → value pairs. Empty and short
// values are ignored.
func NewRedactor(secrets map[string]string) *Redactor {
	type pair struct{ name, value string }
	var pairs []pair
	for name, value := range secrets {
		if len(value) >= minSecretLen {
			pairs = append(pairs, pair{name, value})
		}
	}
	if len(pairs) == 0 {
		return &Redactor{}
	}
	// Longest first, so a key containing another key is replaced whole.
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].value) != len(pairs[j].value) {
			return len(pairs[i].value) > len(pairs[j].value)
		}
		return pairs[i].name < pairs[j].name
	})
	oldnew := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		oldnew = append(oldnew, p.value, "[REDACTED:"+p.name+"]")
	}
	return &Redactor{replacer: strings.NewReplacer(oldnew...)}
}

// Redact scrubs s. A nil or empty Redactor returns s unchanged.
func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}
