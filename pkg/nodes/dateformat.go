package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/node"
)

// Named layouts accepted by date-format besides literal Go layouts.
var dateLayouts = map[string]string{
	"ANSIC":       time.ANSIC,
	"UnixDate":    time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
	"Kitchen":     time.Kitchen,
	"Stamp":       time.Stamp,
	"StampMilli":  time.StampMilli,
	"DateTime":    time.DateTime,
	"DateOnly":    time.DateOnly,
	"TimeOnly":    time.TimeOnly,
}

func layout(name string) string {
	if l, ok := dateLayouts[name]; ok {
		return l
	}
	return name
}

// DateFormat reformats date strings, optionally converting time zones.
// Empty strings pass unchanged.
//
//	inFormat, outFormat:     layout names (RFC3339, DateTime, ...) or Go layouts
//	inTimezone, outTimezone: IANA zone names
//	field:                   object field holding the date
type DateFormat struct {
	*algorithm.SimpleIterating
	field    string
	inLayout string
	in, out  *time.Location
	// compact DateOnly input (20060102) is accepted as well
	dateOnly  bool
	dateTime  bool
	outLayout string
}

func newDateFormat(n *node.Node, params algorithm.Parameters) (algorithm.Runnable, error) {
	inFormat := params.StringOr("inFormat", "RFC3339")
	outFormat := params.String("outFormat")
	if outFormat == "" {
		return nil, fmt.Errorf("outFormat is required")
	}
	d := &DateFormat{
		field:     params.String("field"),
		inLayout:  layout(inFormat),
		outLayout: layout(outFormat),
		dateOnly:  inFormat == "DateOnly",
		dateTime:  inFormat == "DateTime",
	}

	var err error
	if d.in, err = loadLocation(params.String("inTimezone")); err != nil {
		return nil, fmt.Errorf("invalid input timezone: %w", err)
	}
	if d.out, err = loadLocation(params.String("outTimezone")); err != nil {
		return nil, fmt.Errorf("invalid output timezone: %w", err)
	}

	alg, err := algorithm.NewSimpleIterating(n, d.format,
		algorithm.WithParallelization(params.IntOr("batchSize", 1)))
	if err != nil {
		return nil, err
	}
	d.SimpleIterating = alg
	return d, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	return time.LoadLocation(name)
}

func (d *DateFormat) format(_ context.Context, b *batch.Batch) error {
	data, err := b.InputData("input")
	if err != nil {
		return err
	}
	out, err := mapString(data, d.field, d.convert)
	if err != nil {
		return fmt.Errorf("row %d: %w", b.Index(), err)
	}
	return b.AddOutputData("output", out)
}

func (d *DateFormat) convert(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return s, nil
	}
	s = d.normalize(s)

	var t time.Time
	var err error
	if d.in != nil {
		t, err = time.ParseInLocation(d.inLayout, s, d.in)
	} else {
		t, err = time.Parse(d.inLayout, s)
	}
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	if d.out != nil {
		t = t.In(d.out)
	}
	return t.Format(d.outLayout), nil
}

// normalize completes partial DateTime values and expands compact dates.
func (d *DateFormat) normalize(s string) string {
	switch {
	case d.dateTime && len(s) == 10 && strings.Count(s, "-") == 2:
		return s + " 00:00:00"
	case d.dateTime && len(s) == 16 && strings.Count(s, ":") == 1:
		return s + ":00"
	case d.dateOnly && len(s) == 8 && !strings.ContainsAny(s, "-/"):
		return s[:4] + "-" + s[4:6] + "-" + s[6:]
	}
	return s
}
