package detect

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// dateValueLayout renders date attributes in report bodies.
const dateValueLayout = "2006-01-02 03:04:05 PM UTC"

// Dates outside years 0001..9999 cannot be rendered.
const (
	minDateMillis = -62135596800000
	maxDateMillis = 253402300799999
)

// ReportFormatter renders change records into line-oriented message bodies.
type ReportFormatter struct {
	mailText string
	layerURL string
	mapURL   string
	fields   *FieldSet
}

// NewReportFormatter creates a formatter for one run.
func NewReportFormatter(cfg RunConfig, fields *FieldSet) *ReportFormatter {
	return &ReportFormatter{
		mailText: cfg.MailText,
		layerURL: cfg.LayerURL,
		mapURL:   cfg.MapURL,
		fields:   fields,
	}
}

// Header names the resource. It opens every message.
func (f *ReportFormatter) Header() string {
	return fmt.Sprintf("%s\t%s\n\n", f.mailText, f.layerURL)
}

// Format renders the message body for a single record, as sent by
// per-record notification.
func (f *ReportFormatter) Format(rec ChangeRecord, since Watermark) string {
	var b strings.Builder
	b.WriteString(f.Header())
	fmt.Fprintf(&b, "\nFeature added since %s:\n", since.Since())
	b.WriteString(f.Section(rec))
	return b.String()
}

// FormatBatch renders one message body for all records.
func (f *ReportFormatter) FormatBatch(records []ChangeRecord, since Watermark) string {
	var b strings.Builder
	b.WriteString(f.Header())
	fmt.Fprintf(&b, "\nFeature(s) added since %s:\n", since.Since())
	for _, rec := range records {
		b.WriteString(f.Section(rec))
	}
	return b.String()
}

// Section renders the attribute lines of one record, followed by its
// location line when it has a geometry, and a blank separator line.
func (f *ReportFormatter) Section(rec ChangeRecord) string {
	var b strings.Builder
	for _, a := range rec.Attributes {
		fd := f.fields.Describe(a.Name)
		if fd.Identity {
			continue
		}
		fmt.Fprintf(&b, "\t%s: %s\n", fd.Alias, renderValue(fd.Type, a.Value))
	}
	if rec.Geometry != nil {
		fmt.Fprintf(&b, "\tIncident Location: %s%s,%s\n", f.mapURL,
			formatFloat(rec.Geometry.X), formatFloat(rec.Geometry.Y))
	}
	b.WriteString("\n")
	return b.String()
}

func renderValue(typ FieldType, v any) string {
	if v == nil {
		return ""
	}
	if typ == FieldDate {
		if s, ok := v.(string); ok && s == "" {
			return ""
		}
		return renderDate(v)
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return formatFloat(val)
	default:
		return fmt.Sprint(val)
	}
}

// renderDate formats an epoch-milliseconds value. Zero and anything that is
// not a representable date render blank.
func renderDate(v any) string {
	var ms float64
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return ""
		}
		ms = f
	case float64:
		ms = val
	case int64:
		ms = float64(val)
	case int:
		ms = float64(val)
	default:
		return ""
	}
	if ms == 0 || math.IsNaN(ms) || ms < minDateMillis || ms > maxDateMillis {
		return ""
	}
	return time.UnixMilli(int64(ms)).UTC().Format(dateValueLayout)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
