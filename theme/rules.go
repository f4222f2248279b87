package theme

import (
	"regexp"
	"strings"

	"digifusion/model"
)

const (
	tabletMaxWidth = "991px"
	mobileMaxWidth = "767px"
)

var propertyNameRe = regexp.MustCompile(`^-{0,2}[a-zA-Z][a-zA-Z0-9-]*$`)

type declaration struct {
	property string
	value    string
}

type ruleBlock struct {
	selector string
	decls    []declaration
	index    map[string]int
}

type bucket struct {
	order []string
	rules map[string]*ruleBlock
}

// RuleSet collects CSS declarations keyed by breakpoint bucket, selector and
// property. Selectors and properties keep their first insertion order; a
// later Add for the same triple replaces the value in place.
type RuleSet struct {
	buckets map[model.Breakpoint]*bucket
	count   int
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{buckets: make(map[model.Breakpoint]*bucket, len(model.Breakpoints))}
}

// Add records property:value for selector in the given bucket. It reports
// false when the rule was rejected: unknown bucket, malformed property, or a
// value or selector that could break out of its declaration block.
func (rs *RuleSet) Add(selector, property, value string, bp model.Breakpoint) bool {
	selector = strings.TrimSpace(selector)
	property = strings.TrimSpace(property)
	value = strings.TrimSpace(value)

	if bp == "" {
		bp = model.BreakpointBase
	}
	if !bp.Valid() || selector == "" || value == "" || !propertyNameRe.MatchString(property) {
		return false
	}
	if strings.ContainsAny(selector, "{}<;") || strings.ContainsAny(value, "{};<>\n\r") {
		return false
	}

	b, ok := rs.buckets[bp]
	if !ok {
		b = &bucket{rules: make(map[string]*ruleBlock)}
		rs.buckets[bp] = b
	}
	rb, ok := b.rules[selector]
	if !ok {
		rb = &ruleBlock{selector: selector, index: make(map[string]int)}
		b.rules[selector] = rb
		b.order = append(b.order, selector)
	}
	if i, exists := rb.index[property]; exists {
		rb.decls[i].value = value
		return true
	}
	rb.index[property] = len(rb.decls)
	rb.decls = append(rb.decls, declaration{property: property, value: value})
	rs.count++
	return true
}

// Len returns the number of distinct (bucket, selector, property) entries.
func (rs *RuleSet) Len() int {
	return rs.count
}

// Lookup returns the value stored for a triple.
func (rs *RuleSet) Lookup(selector, property string, bp model.Breakpoint) (string, bool) {
	b, ok := rs.buckets[bp]
	if !ok {
		return "", false
	}
	rb, ok := b.rules[selector]
	if !ok {
		return "", false
	}
	i, ok := rb.index[property]
	if !ok {
		return "", false
	}
	return rb.decls[i].value, true
}

// CSS renders the unminified stylesheet: base and desktop rules unwrapped,
// then tablet and mobile rules inside their max-width media queries.
func (rs *RuleSet) CSS() string {
	var sb strings.Builder
	for _, bp := range model.Breakpoints {
		b, ok := rs.buckets[bp]
		if !ok || len(b.order) == 0 {
			continue
		}
		switch bp {
		case model.BreakpointTablet:
			sb.WriteString("@media (max-width: " + tabletMaxWidth + ") {\n")
			b.write(&sb, "\t")
			sb.WriteString("}\n")
		case model.BreakpointMobile:
			sb.WriteString("@media (max-width: " + mobileMaxWidth + ") {\n")
			b.write(&sb, "\t")
			sb.WriteString("}\n")
		default:
			b.write(&sb, "")
		}
	}
	return sb.String()
}

func (b *bucket) write(sb *strings.Builder, indent string) {
	for _, sel := range b.order {
		rb := b.rules[sel]
		sb.WriteString(indent + rb.selector + " {\n")
		for _, d := range rb.decls {
			sb.WriteString(indent + "\t" + d.property + ": " + d.value + ";\n")
		}
		sb.WriteString(indent + "}\n")
	}
}
