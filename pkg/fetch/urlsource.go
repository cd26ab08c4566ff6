package fetch

import (
	"strings"

	"github.com/cppan/cppan/pkg/pkg"
)

// TemplateSource builds a download URL by substituting {path}, {hash},
// and {version} placeholders, the shape spec.md §6's
// primary_sources/default_source/additional_sources remote config keys
// take (each one a URL template string).
type TemplateSource struct {
	Template string
}

// URL implements URLSource.
func (t TemplateSource) URL(p pkg.Package) (string, error) {
	r := strings.NewReplacer(
		"{path}", p.Path.FSPath("/"),
		"{hash}", p.Hash(),
		"{version}", p.Version.String(),
	)
	return r.Replace(t.Template), nil
}

// TemplateSources converts a slice of URL templates into URLSources, a
// convenience for building Pipeline.PrimarySources/AdditionalSources
// from a remote's config.
func TemplateSources(templates []string) []URLSource {
	out := make([]URLSource, len(templates))
	for i, tpl := range templates {
		out[i] = TemplateSource{Template: tpl}
	}
	return out
}
