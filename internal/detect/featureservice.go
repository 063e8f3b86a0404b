package detect

import (
	"context"
	"fmt"
	"iter"
)

// Point is a record geometry in the layer's spatial reference.
type Point struct {
	X float64
	Y float64
}

// Attribute is one field value of a record.
type Attribute struct {
	Name  string
	Value any
}

// ChangeRecord is one row returned by the delta query. Attributes keep the
// order the service returned them in.
type ChangeRecord struct {
	Attributes []Attribute
	Geometry   *Point
}

// Value returns the attribute value for name, matched case-sensitively.
func (r ChangeRecord) Value(name string) (any, bool) {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// QueryRequest is a filtered query against a layer.
type QueryRequest struct {
	Where     string
	OutFields []string
}

// DeltaFilter builds the where clause selecting records created strictly
// after the watermark. The display string is the comparison literal.
func DeltaFilter(field string, w Watermark) string {
	return fmt.Sprintf("%s>'%s'", field, w.Display)
}

// TokenProvider obtains a short-lived credential for the service.
type TokenProvider interface {
	GenerateToken(ctx context.Context, sharingURL, username, password, referer string) (string, error)
}

// MetadataFetcher retrieves layer metadata. It returns an error wrapping
// ErrTrackingNotEnabled when the layer has no editor tracking.
type MetadataFetcher interface {
	LayerInfo(ctx context.Context, layerURL, token string) (*LayerInfo, error)
}

// ChangeQuery queries a layer for records and statistics.
type ChangeQuery interface {
	// MaxTimestamp returns the maximum value of field in epoch milliseconds.
	MaxTimestamp(ctx context.Context, layerURL, token, field string) (float64, error)

	// Query returns the records matching req. Iteration stops at the first error.
	Query(ctx context.Context, layerURL, token string, req QueryRequest) iter.Seq2[ChangeRecord, error]
}

// FeatureService is the remote resource the pipeline polls.
type FeatureService interface {
	TokenProvider
	MetadataFetcher
	ChangeQuery
}
