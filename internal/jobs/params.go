package jobs

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"galley/internal/config"
	"galley/internal/services"
)

const defaultTemplate = "default"

// LayoutOverrides carries the optional layout values a requester supplied.
type LayoutOverrides struct {
	PageWidth   *float64 `json:"pageWidth,omitempty"`
	PageHeight  *float64 `json:"pageHeight,omitempty"`
	FontSize    *float64 `json:"fontSize,omitempty"`
	LineSpacing *float64 `json:"lineSpacing,omitempty"`
	Margin      *float64 `json:"margin,omitempty"`
}

// ResolveLayout applies defaults for absent values and rejects values outside
// the configured bounds.
func ResolveLayout(overrides LayoutOverrides, bounds config.Layout) (Layout, error) {
	var layout Layout
	for _, field := range []struct {
		name   string
		value  *float64
		bound  config.Bound
		target *float64
	}{
		{"pageWidth", overrides.PageWidth, bounds.PageWidth, &layout.PageWidth},
		{"pageHeight", overrides.PageHeight, bounds.PageHeight, &layout.PageHeight},
		{"fontSize", overrides.FontSize, bounds.FontSize, &layout.FontSize},
		{"lineSpacing", overrides.LineSpacing, bounds.LineSpacing, &layout.LineSpacing},
		{"margin", overrides.Margin, bounds.Margin, &layout.Margin},
	} {
		if field.value == nil {
			*field.target = field.bound.Default
			continue
		}
		v := *field.value
		if v < field.bound.Min || v > field.bound.Max {
			return Layout{}, services.Wrap(services.ErrValidation, "submit", "layout",
				fmt.Sprintf("%s %.2f outside [%.2f, %.2f]", field.name, v, field.bound.Min, field.bound.Max), nil)
		}
		*field.target = v
	}
	if 2*layout.Margin >= layout.PageWidth || 2*layout.Margin >= layout.PageHeight {
		return Layout{}, services.Wrap(services.ErrValidation, "submit", "layout", "margins leave no printable area", nil)
	}
	return layout, nil
}

// NormalizeSelection trims the selection and checks required fields. Language
// codes are canonicalized as BCP 47 tags.
func NormalizeSelection(sel Selection) (Selection, error) {
	sel.Project = strings.TrimSpace(sel.Project)
	sel.Collection = strings.TrimSpace(sel.Collection)
	sel.Template = strings.TrimSpace(sel.Template)
	if sel.Template == "" {
		sel.Template = defaultTemplate
	}
	if sel.Project == "" {
		return Selection{}, invalidSelection("project is required")
	}
	if sel.Collection == "" {
		return Selection{}, invalidSelection("collection is required")
	}
	if strings.ContainsAny(sel.Project+sel.Template, "/\\") || strings.Contains(sel.Project+sel.Template, "..") {
		return Selection{}, invalidSelection("project and template must be plain names")
	}
	if len(sel.Chapters) == 0 {
		return Selection{}, invalidSelection("at least one chapter is required")
	}
	seen := make(map[int]struct{}, len(sel.Chapters))
	chapters := make([]int, 0, len(sel.Chapters))
	for _, ch := range sel.Chapters {
		if ch <= 0 {
			return Selection{}, invalidSelection(fmt.Sprintf("chapter %d must be positive", ch))
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		chapters = append(chapters, ch)
	}
	sel.Chapters = chapters

	var err error
	if sel.SourceLanguage, err = canonicalLanguage("sourceLanguage", sel.SourceLanguage); err != nil {
		return Selection{}, err
	}
	if sel.TargetLanguage, err = canonicalLanguage("targetLanguage", sel.TargetLanguage); err != nil {
		return Selection{}, err
	}
	if sel.SourceLanguage == sel.TargetLanguage {
		return Selection{}, invalidSelection("source and target language must differ")
	}
	if !sel.CustomMarkers {
		sel.Markers = nil
	}
	return sel, nil
}

func canonicalLanguage(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalidSelection(field + " is required")
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", invalidSelection(fmt.Sprintf("%s %q is not a language tag", field, value))
	}
	return tag.String(), nil
}

func invalidSelection(message string) error {
	return services.Wrap(services.ErrValidation, "submit", "selection", message, nil)
}
