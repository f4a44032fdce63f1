// Package summary derives display metadata from an item's folded file set.
package summary

import (
	"regexp"
	"sort"
	"strings"
)

var (
	refRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Summary is the display view of an item derived from the file names the
// record format treats as conventional: a title, a tag set, and the names of
// other items referenced from its text.
type Summary struct {
	Title string
	Tags  []string
	Refs  []string
}

// Derive inspects a folded file set by conventional names. An explicit
// `title` file wins over the first Markdown heading found in the text
// bodies; tags come from a `tags` file plus inline #tags; refs are
// deduplicated [[name]] references collected across every text body.
func Derive(files map[string]string) Summary {
	bodies := textBodies(files)
	return Summary{
		Title: deriveTitle(files["title"], bodies),
		Tags:  extractTags(files["tags"], bodies),
		Refs:  extractRefs(bodies),
	}
}

// textBodies returns the contents of the text-bearing files in a stable
// order: the conventional `text` body first, then Markdown files by name.
func textBodies(files map[string]string) []string {
	var names []string
	for name := range files {
		if strings.HasSuffix(name, ".md") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := files["text"]; ok {
		names = append([]string{"text"}, names...)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, files[name])
	}
	return out
}

// deriveTitle returns the first line of the title file if present, otherwise
// the first H1 heading across the text bodies, otherwise empty string.
func deriveTitle(title string, bodies []string) string {
	if line, _, _ := strings.Cut(title, "\n"); strings.TrimSpace(line) != "" {
		return strings.TrimSpace(line)
	}
	for _, body := range bodies {
		for _, line := range strings.Split(body, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "# ") {
				return strings.TrimSpace(trimmed[2:])
			}
		}
	}
	return ""
}

// extractTags collects tags from the tags file (comma or whitespace
// separated) and inline #tags from the text bodies, deduplicated in
// first-seen order.
func extractTags(declared string, bodies []string) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, tag := range strings.FieldsFunc(declared, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	}) {
		tag = strings.TrimPrefix(tag, "#")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	for _, body := range bodies {
		for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
			tag := m[1]
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}

	return out
}

// extractRefs returns deduplicated [[name]] reference targets, normalising
// aliases ([[target|alias]] keeps the target).
func extractRefs(bodies []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, body := range bodies {
		for _, m := range refRe.FindAllStringSubmatch(body, -1) {
			target := m[1]
			if i := strings.Index(target, "|"); i >= 0 {
				target = target[:i]
			}
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			out = append(out, target)
		}
	}
	return out
}
