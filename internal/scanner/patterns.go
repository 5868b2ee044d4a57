package scanner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charlesng35/governor/internal/inventory"
)

// Collection references are extracted from call shapes like
// collection("users") or db.collection('orders'), with any of the three
// string-literal quote styles. RE2 has no backreferences, so each quote
// style gets its own capture group.
var collectionCallRe = regexp.MustCompile(
	`\bcollection(?:Group)?\s*\(\s*(?:"([^"\\]+)"|'([^'\\]+)'|` + "`([^`]+)`" + `)\s*\)`,
)

// chainCallRe matches the next chained call after a collection reference.
// Anything other than where/orderBy/limit ends the chain.
var chainCallRe = regexp.MustCompile(`^\s*\.\s*(where|orderBy|limit)\s*\(([^)]*)\)`)

// identifierRe is the shape a legitimate collection name must have.
var identifierRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// constantRe catches SCREAMING_SNAKE constants that leak through the call
// pattern, e.g. collection(COLLECTION_NAME) pasted into a string.
var constantRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)

// rejectedNames are literals that match the call shape but are never
// collection names: language keywords, HTTP verbs, and builtin type names.
var rejectedNames = map[string]struct{}{
	"true": {}, "false": {}, "null": {}, "undefined": {}, "nan": {},
	"get": {}, "post": {}, "put": {}, "delete": {}, "patch": {}, "head": {}, "options": {},
	"string": {}, "number": {}, "boolean": {}, "object": {}, "array": {}, "date": {},
	"function": {}, "symbol": {}, "bigint": {}, "error": {}, "promise": {}, "map": {}, "set": {},
}

// validCollectionName reports whether an extracted literal plausibly names a
// real collection. False positives (identifiers, constants, booleans, HTTP
// verbs, type names) are dropped here rather than polluting the inventory.
func validCollectionName(name string) bool {
	if len(name) < 2 || len(name) > 64 {
		return false
	}
	if !identifierRe.MatchString(name) {
		return false
	}
	if constantRe.MatchString(name) {
		return false
	}
	if _, bad := rejectedNames[strings.ToLower(name)]; bad {
		return false
	}
	return true
}

// nameRef is a collection reference found at a line of a file.
type nameRef struct {
	Name string
	Line int
}

// patternRef is a query chain found at a line of a file.
type patternRef struct {
	Collection string
	Predicates []inventory.Predicate
	Limit      *int
	Line       int
}

// fileExtract is everything pattern matching pulled out of one file.
type fileExtract struct {
	Refs     []nameRef
	Patterns []patternRef
	Rejected []nameRef
}

// extract runs the pattern table over one file's content. It never fails:
// content that matches nothing yields an empty extract.
func extract(content string) *fileExtract {
	out := &fileExtract{}

	for _, loc := range collectionCallRe.FindAllStringSubmatchIndex(content, -1) {
		name := submatchString(content, loc, 1)
		if name == "" {
			name = submatchString(content, loc, 2)
		}
		if name == "" {
			name = submatchString(content, loc, 3)
		}
		if name == "" {
			continue
		}

		line := lineAt(content, loc[0])
		if !validCollectionName(name) {
			out.Rejected = append(out.Rejected, nameRef{Name: name, Line: line})
			continue
		}

		out.Refs = append(out.Refs, nameRef{Name: name, Line: line})

		if pattern := parseChain(content, loc[1], name, line); pattern != nil {
			out.Patterns = append(out.Patterns, *pattern)
		}
	}

	return out
}

// parseChain consumes .where/.orderBy/.limit calls chained directly after a
// collection reference. The first unrecognized call ends the chain. A chain
// with no recognized calls produces no pattern.
func parseChain(content string, pos int, collection string, line int) *patternRef {
	pattern := patternRef{Collection: collection, Line: line}

	for {
		m := chainCallRe.FindStringSubmatchIndex(content[pos:])
		if m == nil {
			break
		}

		method := content[pos+m[2] : pos+m[3]]
		args := splitArgs(content[pos+m[4] : pos+m[5]])

		switch method {
		case "where":
			if field, ok := quotedLiteral(args, 0); ok {
				pattern.Predicates = append(pattern.Predicates, inventory.Predicate{
					Field: field,
					Op:    inventory.OpEq,
				})
			}
		case "orderBy":
			if field, ok := quotedLiteral(args, 0); ok {
				direction := inventory.DirectionAsc
				if dir, ok := quotedLiteral(args, 1); ok && dir == inventory.DirectionDesc {
					direction = inventory.DirectionDesc
				}
				pattern.Predicates = append(pattern.Predicates, inventory.Predicate{
					Field:     field,
					Op:        inventory.OpOrderBy,
					Direction: direction,
				})
			}
		case "limit":
			if len(args) == 1 {
				if n, err := strconv.Atoi(strings.TrimSpace(args[0])); err == nil && n > 0 {
					pattern.Limit = &n
				}
			}
		}

		pos += m[1]
	}

	if len(pattern.Predicates) == 0 && pattern.Limit == nil {
		return nil
	}
	return &pattern
}

func submatchString(content string, loc []int, group int) string {
	start, end := loc[2*group], loc[2*group+1]
	if start < 0 {
		return ""
	}
	return content[start:end]
}

// lineAt returns the 1-based line number of a byte offset.
func lineAt(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

// splitArgs splits a call argument list on commas that are not inside a
// string literal. Nested parentheses do not occur here because the chain
// regex already stops at the first ')'.
func splitArgs(raw string) []string {
	var (
		args    []string
		current strings.Builder
		quote   rune
	)

	for _, r := range raw {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			current.WriteRune(r)
		case r == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, strings.TrimSpace(current.String()))
	}
	return args
}

// quotedLiteral returns argument i with its quotes stripped. Unquoted
// arguments are dynamic expressions and are rejected.
func quotedLiteral(args []string, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	arg := args[i]
	if len(arg) < 2 {
		return "", false
	}
	first, last := arg[0], arg[len(arg)-1]
	if first != last || (first != '\'' && first != '"' && first != '`') {
		return "", false
	}
	return arg[1 : len(arg)-1], true
}
