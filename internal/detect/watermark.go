package detect

import (
	"context"
	"errors"
	"math"
	"time"
)

// DisplayLayout is the date literal format the feature service accepts in a
// where clause: MM/DD/YYYY HH:MM:SS.ffffff AM/PM.
const DisplayLayout = "01/02/2006 03:04:05.000000 PM"

// sinceLayout is DisplayLayout without the fractional seconds.
const sinceLayout = "01/02/2006 03:04:05 PM"

// ErrWatermarkNotFound is returned by WatermarkStore.Read when no watermark
// has been stored for a layer yet.
var ErrWatermarkNotFound = errors.New("watermark not found")

// Watermark is the persisted high-water mark of a layer's creation dates.
// Display is always the canonical rendering of Timestamp, so the only way to
// build one is NewWatermark or WatermarkFromMillis.
type Watermark struct {
	Timestamp float64 // epoch seconds, UTC
	Display   string
}

// NewWatermark builds a Watermark from epoch seconds.
func NewWatermark(ts float64) Watermark {
	return Watermark{
		Timestamp: ts,
		Display:   secondsToTime(ts).Format(DisplayLayout),
	}
}

// WatermarkFromMillis builds a Watermark from epoch milliseconds, the unit the
// feature service reports dates in.
func WatermarkFromMillis(ms float64) Watermark {
	return NewWatermark(ms / 1000)
}

// Time returns the watermark as a UTC time at microsecond precision.
func (w Watermark) Time() time.Time {
	return secondsToTime(w.Timestamp)
}

// Since renders the watermark for readers: no fractional seconds, UTC suffix.
func (w Watermark) Since() string {
	return w.Time().Format(sinceLayout) + " UTC"
}

// IsZero reports whether the watermark was never set.
func (w Watermark) IsZero() bool {
	return w.Display == ""
}

func secondsToTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	micros := math.Round(frac * 1e6)
	return time.Unix(int64(sec), int64(micros)*int64(time.Microsecond)).UTC()
}

// WatermarkStore persists the last-seen watermark per layer.
type WatermarkStore interface {
	// Read returns the stored watermark for a layer, or ErrWatermarkNotFound.
	Read(ctx context.Context, layerID int) (Watermark, error)

	// Write replaces the stored watermark for a layer. Readers never observe a
	// partially written value.
	Write(ctx context.Context, layerID int, w Watermark) error
}
