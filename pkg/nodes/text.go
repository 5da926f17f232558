package nodes

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/node"
)

// Text operations.
const (
	OpUpper        = "to_upper"
	OpLower        = "to_lower"
	OpTitle        = "title_case"
	OpCapitalize   = "capitalize"
	OpTrim         = "trim"
	OpReplace      = "replace"
	OpSubstring    = "substring"
	OpNormalize    = "normalize"
	OpBase64Encode = "base64_encode"
	OpBase64Decode = "base64_decode"
	OpURIEncode    = "uri_encode"
	OpURIDecode    = "uri_decode"
)

// Text applies a string operation to every row. String rows are replaced;
// with field set, that field of object rows is replaced and the other
// fields are kept. Rows without the field pass unchanged.
//
//	operation: one of the Op constants
//	field:     object field to transform
//	cutset:    trim; characters to strip instead of white space
//	old, new, count, regex: replace; count < 0 replaces all
//	start, end: substring; rune indices, negative counts from the end
type Text struct {
	*algorithm.SimpleIterating
	field string
	apply func(string) (string, error)
}

func newText(n *node.Node, params algorithm.Parameters) (algorithm.Runnable, error) {
	apply, err := textOperation(params)
	if err != nil {
		return nil, err
	}
	t := &Text{field: params.String("field"), apply: apply}
	alg, err := algorithm.NewSimpleIterating(n, t.transform,
		algorithm.WithParallelization(params.IntOr("batchSize", 1)))
	if err != nil {
		return nil, err
	}
	t.SimpleIterating = alg
	return t, nil
}

func textOperation(params algorithm.Parameters) (func(string) (string, error), error) {
	op := params.String("operation")
	switch op {
	case OpUpper:
		return infallible(strings.ToUpper), nil
	case OpLower:
		return infallible(strings.ToLower), nil
	case OpTitle:
		// A Caser is not safe for concurrent use.
		return infallible(func(s string) string { return cases.Title(language.Und).String(s) }), nil
	case OpCapitalize:
		return infallible(capitalize), nil
	case OpTrim:
		cutset := params.String("cutset")
		if cutset == "" {
			return infallible(strings.TrimSpace), nil
		}
		return infallible(func(s string) string { return strings.Trim(s, cutset) }), nil
	case OpReplace:
		return replacer(params.String("old"), params.String("new"), params.IntOr("count", -1), params.BoolOr("regex", false))
	case OpSubstring:
		start, end := params.IntOr("start", 0), params.IntOr("end", 0)
		return infallible(func(s string) string { return substring(s, start, end) }), nil
	case OpNormalize:
		return removeDiacritics, nil
	case OpBase64Encode:
		return infallible(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }), nil
	case OpBase64Decode:
		return func(s string) (string, error) {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return "", fmt.Errorf("invalid base64: %w", err)
			}
			return string(b), nil
		}, nil
	case OpURIEncode:
		return infallible(url.QueryEscape), nil
	case OpURIDecode:
		return url.QueryUnescape, nil
	case "":
		return nil, fmt.Errorf("operation is required")
	}
	return nil, fmt.Errorf("unknown text operation %q", op)
}

func infallible(fn func(string) string) func(string) (string, error) {
	return func(s string) (string, error) { return fn(s), nil }
}

func (t *Text) transform(_ context.Context, b *batch.Batch) error {
	data, err := b.InputData("input")
	if err != nil {
		return err
	}
	out, err := mapString(data, t.field, t.apply)
	if err != nil {
		return fmt.Errorf("row %d: %w", b.Index(), err)
	}
	return b.AddOutputData("output", out)
}

// mapString applies fn to a string row, or to field of an object row. The
// object is copied, never modified in place.
func mapString(data any, field string, fn func(string) (string, error)) (any, error) {
	if field == "" {
		s, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", data)
		}
		return fn(s)
	}

	obj, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object with field %q, got %T", field, data)
	}
	v, ok := obj[field]
	if !ok || v == nil {
		return data, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, expected a string", field, v)
	}
	res, err := fn(s)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	copied := make(map[string]any, len(obj))
	for k, v := range obj {
		copied[k] = v
	}
	copied[field] = res
	return copied, nil
}

func replacer(old, repl string, count int, useRegex bool) (func(string) (string, error), error) {
	if old == "" {
		return nil, fmt.Errorf("replace needs old")
	}
	if !useRegex {
		return infallible(func(s string) string { return strings.Replace(s, old, repl, count) }), nil
	}
	re, err := regexp.Compile(old)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", old, err)
	}
	if count < 0 {
		return infallible(func(s string) string { return re.ReplaceAllString(s, repl) }), nil
	}
	return infallible(func(s string) string {
		var b strings.Builder
		last := 0
		for _, m := range re.FindAllStringSubmatchIndex(s, count) {
			b.WriteString(s[last:m[0]])
			b.Write(re.ExpandString(nil, repl, s, m))
			last = m[1]
		}
		b.WriteString(s[last:])
		return b.String()
	}), nil
}

// substring returns the runes in [start, end). Negative indices count from
// the end, end 0 means the end of s. Out of range indices are clamped.
func substring(s string, start, end int) string {
	r := []rune(s)
	n := len(r)
	if start < 0 {
		start += n
	}
	if end <= 0 {
		end += n
	}
	start = min(max(start, 0), n)
	end = min(max(end, 0), n)
	if start > end {
		start, end = end, start
	}
	return string(r[start:end])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// removeDiacritics decomposes s and drops the combining marks.
func removeDiacritics(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	res, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("failed to normalize: %w", err)
	}
	return res, nil
}
