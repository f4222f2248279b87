package fonts

import (
	"regexp"
	"strings"
)

var (
	fontFaceRe     = regexp.MustCompile(`(?s)(?:/\*\s*([\w\[\]-]+)\s*\*/\s*)?@font-face\s*\{([^}]*)\}`)
	fontStyleRe    = regexp.MustCompile(`font-style:\s*([^;]+);`)
	fontWeightRe   = regexp.MustCompile(`font-weight:\s*([^;]+);`)
	unicodeRangeRe = regexp.MustCompile(`unicode-range:\s*([^;]+);`)
	srcURLRe       = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)\s*format\(\s*['"]?(woff2|woff)['"]?\s*\)`)
)

// FontFace is one @font-face block from a Google Fonts CSS response, with
// its preferred source already chosen.
type FontFace struct {
	Subset       string
	Style        string
	Weight       string
	URL          string
	Format       string
	UnicodeRange string
}

// ParseFontFaces extracts @font-face blocks. Blocks without a woff2 or
// woff source are dropped; woff2 wins when both are listed.
func ParseFontFaces(css string) []FontFace {
	var faces []FontFace
	for _, m := range fontFaceRe.FindAllStringSubmatch(css, -1) {
		body := m[2]
		face := FontFace{
			Subset: strings.TrimSpace(m[1]),
			Style:  "normal",
			Weight: "400",
		}
		if sm := fontStyleRe.FindStringSubmatch(body); sm != nil {
			face.Style = strings.TrimSpace(sm[1])
		}
		if sm := fontWeightRe.FindStringSubmatch(body); sm != nil {
			face.Weight = strings.TrimSpace(sm[1])
		}
		if sm := unicodeRangeRe.FindStringSubmatch(body); sm != nil {
			face.UnicodeRange = strings.TrimSpace(sm[1])
		}
		for _, src := range srcURLRe.FindAllStringSubmatch(body, -1) {
			if src[2] == "woff2" {
				face.URL, face.Format = src[1], "woff2"
				break
			}
			if face.URL == "" {
				face.URL, face.Format = src[1], src[2]
			}
		}
		if face.URL == "" {
			continue
		}
		faces = append(faces, face)
	}
	return faces
}

// SelectFaces keeps one face per (weight, style), preferring the latin
// subset and otherwise the first one listed. Order of first appearance is
// preserved.
func SelectFaces(faces []FontFace) []FontFace {
	type key struct{ weight, style string }
	index := make(map[key]int)
	var out []FontFace
	for _, f := range faces {
		k := key{f.Weight, f.Style}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, f)
			continue
		}
		if f.Subset == "latin" && out[i].Subset != "latin" {
			out[i] = f
		}
	}
	return out
}

// LocalRule renders the face pointing at a cached file.
func (f FontFace) LocalRule(family, relURL string) string {
	var sb strings.Builder
	sb.WriteString("@font-face{")
	sb.WriteString("font-family:'" + strings.ReplaceAll(family, "'", "") + "';")
	sb.WriteString("font-style:" + f.Style + ";")
	sb.WriteString("font-weight:" + f.Weight + ";")
	sb.WriteString("font-display:swap;")
	sb.WriteString("src:url('" + relURL + "') format('" + f.Format + "');")
	if f.UnicodeRange != "" {
		sb.WriteString("unicode-range:" + f.UnicodeRange + ";")
	}
	sb.WriteString("}")
	return sb.String()
}
