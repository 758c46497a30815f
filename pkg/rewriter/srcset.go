package rewriter

import (
	"strings"

	"github.com/andesco/portal/pkg/meta"
)

// Srcset wraps the URL of every candidate in a srcset value, keeping the
// descriptors. Candidates are rejoined with ", ".
// Candidates whose URL cannot be wrapped keep it unchanged.
func Srcset(value string, m *meta.Meta, urls URLRewriter) string {
	candidates := strings.Split(value, ",")
	for i, c := range candidates {
		parts := strings.Split(strings.TrimLeft(c, " \t\n\f\r"), " ")
		if parts[0] != "" {
			if u, err := urls.Wrap(parts[0], m); err == nil {
				parts[0] = u
			}
		}
		candidates[i] = strings.Join(parts, " ")
	}
	return strings.Join(candidates, ", ")
}
