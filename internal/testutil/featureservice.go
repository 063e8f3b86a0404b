package testutil

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"detectedits-go/internal/detect"
)

// FakeFeature is one record held by a FakeFeatureService. Created is the
// value of the creation-date tracking field, in epoch milliseconds.
type FakeFeature struct {
	Created    float64
	Attributes []detect.Attribute
	Geometry   *detect.Point
}

// FakeFeatureService is an in-memory detect.FeatureService. Query evaluates
// the delta filter the pipeline builds (`<field>>'<display>'`) with strict
// greater-than on the creation date. Safe for concurrent use.
type FakeFeatureService struct {
	mu sync.Mutex

	Info     detect.LayerInfo
	Features []FakeFeature

	// Errors injected per operation. A non-nil value is returned as is.
	TokenErr error
	InfoErr  error
	MaxErr   error
	QueryErr error

	// Recorded calls.
	TokenCalls int
	Queries    []detect.QueryRequest
}

var _ detect.FeatureService = (*FakeFeatureService)(nil)

// NewFakeFeatureService creates a service with editor tracking enabled on
// CreationDate/Creator and the given extra fields.
func NewFakeFeatureService(fields ...detect.FieldDescriptor) *FakeFeatureService {
	all := []detect.FieldDescriptor{
		detect.NewFieldDescriptor("OBJECTID", "OBJECTID", "esriFieldTypeOID"),
	}
	all = append(all, fields...)
	all = append(all,
		detect.NewFieldDescriptor("CreationDate", "CreationDate", "esriFieldTypeDate"),
		detect.NewFieldDescriptor("Creator", "Creator", "esriFieldTypeString"),
	)
	return &FakeFeatureService{
		Info: detect.LayerInfo{
			Name:   "Incidents",
			Fields: all,
			Tracking: detect.EditTracking{
				CreationDateField: "CreationDate",
				CreatorField:      "Creator",
			},
		},
	}
}

// Add appends a feature created at ms. The OBJECTID and tracking attributes
// are filled in around attrs.
func (s *FakeFeatureService) Add(ms float64, geometry *detect.Point, attrs ...detect.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := []detect.Attribute{{Name: "OBJECTID", Value: len(s.Features) + 1}}
	full = append(full, attrs...)
	full = append(full,
		detect.Attribute{Name: s.Info.Tracking.CreationDateField, Value: ms},
		detect.Attribute{Name: s.Info.Tracking.CreatorField, Value: "editor"},
	)
	s.Features = append(s.Features, FakeFeature{Created: ms, Attributes: full, Geometry: geometry})
}

// Clear removes all features.
func (s *FakeFeatureService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Features = nil
}

func (s *FakeFeatureService) GenerateToken(_ context.Context, _, _, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TokenCalls++
	if s.TokenErr != nil {
		return "", s.TokenErr
	}
	return "token", nil
}

func (s *FakeFeatureService) LayerInfo(_ context.Context, layerURL, _ string) (*detect.LayerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InfoErr != nil {
		return nil, s.InfoErr
	}
	if s.Info.Tracking.CreationDateField == "" {
		return nil, &detect.TrackingNotEnabledError{LayerURL: layerURL}
	}
	info := s.Info
	return &info, nil
}

func (s *FakeFeatureService) MaxTimestamp(_ context.Context, _, _, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MaxErr != nil {
		return 0, s.MaxErr
	}
	var max float64
	for _, f := range s.Features {
		if f.Created > max {
			max = f.Created
		}
	}
	return max, nil
}

func (s *FakeFeatureService) Query(_ context.Context, _, _ string, req detect.QueryRequest) iter.Seq2[detect.ChangeRecord, error] {
	s.mu.Lock()
	s.Queries = append(s.Queries, req)
	queryErr := s.QueryErr
	features := append([]FakeFeature(nil), s.Features...)
	field := s.Info.Tracking.CreationDateField
	s.mu.Unlock()

	return func(yield func(detect.ChangeRecord, error) bool) {
		if queryErr != nil {
			yield(detect.ChangeRecord{}, queryErr)
			return
		}
		after, err := parseDeltaFilter(req.Where, field)
		if err != nil {
			yield(detect.ChangeRecord{}, &detect.QueryError{Status: 400, Reason: err.Error()})
			return
		}
		for _, f := range features {
			created := time.UnixMicro(int64(f.Created * 1000)).UTC()
			if !created.After(after) {
				continue
			}
			rec := detect.ChangeRecord{Attributes: project(f.Attributes, req.OutFields), Geometry: f.Geometry}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// parseDeltaFilter reads the timestamp literal out of `<field>>'<display>'`.
func parseDeltaFilter(where, field string) (time.Time, error) {
	prefix := field + ">'"
	if !strings.HasPrefix(where, prefix) || !strings.HasSuffix(where, "'") {
		return time.Time{}, fmt.Errorf("unsupported where clause %q", where)
	}
	literal := strings.TrimSuffix(strings.TrimPrefix(where, prefix), "'")
	return time.ParseInLocation(detect.DisplayLayout, literal, time.UTC)
}

func project(attrs []detect.Attribute, outFields []string) []detect.Attribute {
	if len(outFields) == 0 || outFields[0] == detect.WildcardFields {
		return append([]detect.Attribute(nil), attrs...)
	}
	keep := make(map[string]bool, len(outFields))
	for _, f := range outFields {
		keep[strings.ToUpper(f)] = true
	}
	var out []detect.Attribute
	for _, a := range attrs {
		if keep[strings.ToUpper(a.Name)] {
			out = append(out, a)
		}
	}
	return out
}
