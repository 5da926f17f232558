package nodes

import (
	"context"
	"testing"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
)

func outputData(t *testing.T, r algorithm.Runnable) []any {
	t.Helper()
	var got []any
	for _, row := range output(t, r) {
		got = append(got, row.Data)
	}
	return got
}

func TestText(t *testing.T) {
	tests := []struct {
		name   string
		params algorithm.Parameters
		in     string
		want   string
	}{
		{"upper", algorithm.Parameters{"operation": OpUpper}, "Café", "CAFÉ"},
		{"lower", algorithm.Parameters{"operation": OpLower}, "MiXeD", "mixed"},
		{"title", algorithm.Parameters{"operation": OpTitle}, "hello big world", "Hello Big World"},
		{"capitalize", algorithm.Parameters{"operation": OpCapitalize}, "élan vital", "Élan vital"},
		{"trim space", algorithm.Parameters{"operation": OpTrim}, "  padded \n", "padded"},
		{"trim cutset", algorithm.Parameters{"operation": OpTrim, "cutset": "*"}, "**star**", "star"},
		{"replace all", algorithm.Parameters{"operation": OpReplace, "old": "a", "new": "o"}, "banana", "bonono"},
		{"replace count", algorithm.Parameters{"operation": OpReplace, "old": "a", "new": "o", "count": 1}, "banana", "bonana"},
		{"replace regex", algorithm.Parameters{"operation": OpReplace, "old": `(\d+)`, "new": "<$1>", "regex": true}, "a1b22", "a<1>b<22>"},
		{"replace regex count", algorithm.Parameters{"operation": OpReplace, "old": `\d`, "new": "#", "regex": true, "count": 2}, "12345", "##345"},
		{"substring", algorithm.Parameters{"operation": OpSubstring, "start": 1, "end": 3}, "héllo", "él"},
		{"substring from end", algorithm.Parameters{"operation": OpSubstring, "start": -3}, "sample", "ple"},
		{"normalize", algorithm.Parameters{"operation": OpNormalize}, "Crème Brûlée", "Creme Brulee"},
		{"base64 encode", algorithm.Parameters{"operation": OpBase64Encode}, "slot", "c2xvdA=="},
		{"base64 decode", algorithm.Parameters{"operation": OpBase64Decode}, "c2xvdA==", "slot"},
		{"uri encode", algorithm.Parameters{"operation": OpURIEncode}, "a b&c", "a+b%26c"},
		{"uri decode", algorithm.Parameters{"operation": OpURIDecode}, "a+b%26c", "a b&c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := create(t, TypeText, tt.params)
			feed(t, r, "input", row(tt.in))
			run(t, r)
			assert.Equal(t, []any{tt.want}, outputData(t, r))
		})
	}
}

func TestText_Field(t *testing.T) {
	r := create(t, TypeText, algorithm.Parameters{"operation": OpUpper, "field": "name"})
	in := map[string]any{"name": "ada", "age": 36}
	feed(t, r, "input",
		row(in, "sample", "a"),
		row(map[string]any{"age": 40}, "sample", "b"),
	)
	run(t, r)

	want := []any{
		map[string]any{"name": "ADA", "age": 36},
		map[string]any{"age": 40},
	}
	if diff := cmp.Diff(want, outputData(t, r)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "ada", in["name"], "input row must not change")
}

func TestText_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params algorithm.Parameters
		errMsg string
	}{
		{"no operation", algorithm.Parameters{}, "operation is required"},
		{"unknown operation", algorithm.Parameters{"operation": "reverse"}, "unknown text operation"},
		{"replace without old", algorithm.Parameters{"operation": OpReplace}, "replace needs old"},
		{"bad pattern", algorithm.Parameters{"operation": OpReplace, "old": "(", "regex": true}, "invalid pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCatalog(t).Create(TypeText, tt.params)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}

	rowErrors := []struct {
		name   string
		params algorithm.Parameters
		data   any
		errMsg string
	}{
		{"not a string", algorithm.Parameters{"operation": OpUpper}, 42, "expected a string"},
		{"not an object", algorithm.Parameters{"operation": OpUpper, "field": "name"}, "ada", "expected an object"},
		{"field not a string", algorithm.Parameters{"operation": OpUpper, "field": "name"}, map[string]any{"name": 1}, `field "name" is int`},
		{"bad base64", algorithm.Parameters{"operation": OpBase64Decode}, "***", "invalid base64"},
	}
	for _, tt := range rowErrors {
		t.Run(tt.name, func(t *testing.T) {
			r := create(t, TypeText, tt.params)
			feed(t, r, "input", row(tt.data))
			err := r.RunBatches(context.Background(), algorithm.DefaultRunConfig())
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestDateFormat(t *testing.T) {
	tests := []struct {
		name   string
		params algorithm.Parameters
		in     string
		want   string
	}{
		{
			name:   "rfc3339 to date",
			params: algorithm.Parameters{"outFormat": "DateOnly"},
			in:     "2024-03-05T10:20:30Z",
			want:   "2024-03-05",
		},
		{
			name:   "custom layout",
			params: algorithm.Parameters{"inFormat": "DateOnly", "outFormat": "02/01/2006"},
			in:     "2024-03-05",
			want:   "05/03/2024",
		},
		{
			name:   "compact date",
			params: algorithm.Parameters{"inFormat": "DateOnly", "outFormat": "DateOnly"},
			in:     "20240305",
			want:   "2024-03-05",
		},
		{
			name:   "partial date time",
			params: algorithm.Parameters{"inFormat": "DateTime", "outFormat": "DateTime"},
			in:     "2024-03-05 08:15",
			want:   "2024-03-05 08:15:00",
		},
		{
			name:   "time zones",
			params: algorithm.Parameters{"inFormat": "DateTime", "inTimezone": "UTC", "outTimezone": "Asia/Tokyo", "outFormat": "RFC3339"},
			in:     "2024-03-05 23:00:00",
			want:   "2024-03-06T08:00:00+09:00",
		},
		{
			name:   "empty passes",
			params: algorithm.Parameters{"outFormat": "DateOnly"},
			in:     "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := create(t, TypeDate, tt.params)
			feed(t, r, "input", row(tt.in))
			run(t, r)
			assert.Equal(t, []any{tt.want}, outputData(t, r))
		})
	}
}

func TestDateFormat_Errors(t *testing.T) {
	_, err := newCatalog(t).Create(TypeDate, algorithm.Parameters{})
	assert.ErrorContains(t, err, "outFormat is required")

	_, err = newCatalog(t).Create(TypeDate, algorithm.Parameters{"outFormat": "DateOnly", "outTimezone": "Mars/Olympus"})
	assert.ErrorContains(t, err, "invalid output timezone")

	r := create(t, TypeDate, algorithm.Parameters{"outFormat": "DateOnly", "field": "at"})
	feed(t, r, "input", row(map[string]any{"at": "yesterday"}))
	assert.ErrorContains(t, r.RunBatches(context.Background(), algorithm.DefaultRunConfig()), `field "at": invalid date`)
}
