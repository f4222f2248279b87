package theme

import (
	"regexp"
	"strings"
)

var (
	commentRe     = regexp.MustCompile(`/\*[^*]*\*+([^/*][^*]*\*+)*/`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	punctuationRe = regexp.MustCompile(`\s*([{};,])\s*`)
	afterColonRe  = regexp.MustCompile(`:\s+`)
	declBlockRe   = regexp.MustCompile(`\{[^{}]*\}`)
	beforeColonRe = regexp.MustCompile(`\s+:`)
)

// Minify compacts CSS produced by RuleSet.CSS. It is a fixed sequence of
// replacements, not a parser, and expects well-formed input.
func Minify(css string) string {
	css = commentRe.ReplaceAllString(css, "")
	css = whitespaceRe.ReplaceAllString(css, " ")
	css = punctuationRe.ReplaceAllString(css, "$1")
	css = afterColonRe.ReplaceAllString(css, ":")
	// Space before a colon is only dropped inside declaration blocks; in a
	// selector ".a :hover" differs from ".a:hover".
	css = declBlockRe.ReplaceAllStringFunc(css, func(block string) string {
		return beforeColonRe.ReplaceAllString(block, ":")
	})
	return strings.TrimSpace(css)
}
