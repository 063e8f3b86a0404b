package featureservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"detectedits-go/internal/detect"
)

// maxStatisticName is the output field name of the max statistics query.
const maxStatisticName = "lasteditdate"

type statistic struct {
	OnStatisticField      string `json:"onStatisticField"`
	StatisticType         string `json:"statisticType"`
	OutStatisticFieldName string `json:"outStatisticFieldName"`
}

type queryResponse struct {
	Features              []feature    `json:"features"`
	ExceededTransferLimit bool         `json:"exceededTransferLimit"`
	Error                 *remoteError `json:"error"`
}

type feature struct {
	Attributes orderedAttributes `json:"attributes"`
	Geometry   *struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	} `json:"geometry"`
}

// orderedAttributes keeps attributes in the order the service sent them,
// which is the order they are reported in.
type orderedAttributes []detect.Attribute

func (a *orderedAttributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes: expected object")
	}

	var out orderedAttributes
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("attributes: expected field name, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("attributes.%s: %w", name, err)
		}
		out = append(out, detect.Attribute{Name: name, Value: v})
	}
	*a = out
	return nil
}

func (f feature) record() detect.ChangeRecord {
	rec := detect.ChangeRecord{Attributes: []detect.Attribute(f.Attributes)}
	if f.Geometry != nil && f.Geometry.X != nil && f.Geometry.Y != nil {
		rec.Geometry = &detect.Point{X: *f.Geometry.X, Y: *f.Geometry.Y}
	}
	return rec
}

func queryURL(layerURL string) string {
	return strings.TrimSuffix(layerURL, "/") + "/query"
}

// MaxTimestamp returns the maximum of field across the layer in epoch
// milliseconds. An empty layer has a null maximum, reported as 0.
func (c *Client) MaxTimestamp(ctx context.Context, layerURL, token, field string) (float64, error) {
	stats, err := json.Marshal([]statistic{{
		OnStatisticField:      field,
		StatisticType:         "max",
		OutStatisticFieldName: maxStatisticName,
	}})
	if err != nil {
		return 0, fmt.Errorf("encoding statistics: %w", err)
	}

	params := url.Values{
		"f":             {"pjson"},
		"where":         {"1=1"},
		"outFields":     {"*"},
		"outStatistics": {string(stats)},
		"token":         {token},
	}

	var resp queryResponse
	if err := c.get(ctx, queryURL(layerURL), params, &resp); err != nil {
		return 0, &detect.StatisticsError{Message: err.Error()}
	}
	if resp.Error != nil {
		return 0, &detect.StatisticsError{Message: resp.Error.Message, Details: resp.Error.Details}
	}
	if len(resp.Features) == 0 {
		return 0, nil
	}

	for _, a := range resp.Features[0].Attributes {
		if !strings.EqualFold(a.Name, maxStatisticName) {
			continue
		}
		switch v := a.Value.(type) {
		case nil:
			return 0, nil
		case json.Number:
			ms, err := v.Float64()
			if err != nil {
				return 0, &detect.StatisticsError{Message: fmt.Sprintf("invalid max value %q", v.String())}
			}
			return ms, nil
		default:
			return 0, &detect.StatisticsError{Message: fmt.Sprintf("unexpected max value %v", v)}
		}
	}
	return 0, nil
}

// Query runs req against the layer and yields each matching record. Pages
// are requested with resultOffset while the service reports that the
// transfer limit was exceeded. Every failure is a *detect.QueryError.
func (c *Client) Query(ctx context.Context, layerURL, token string, req detect.QueryRequest) iter.Seq2[detect.ChangeRecord, error] {
	return func(yield func(detect.ChangeRecord, error) bool) {
		offset := 0
		for {
			resp, err := c.queryPage(ctx, layerURL, token, req, offset)
			if err != nil {
				yield(detect.ChangeRecord{}, err)
				return
			}
			for _, f := range resp.Features {
				if !yield(f.record(), nil) {
					return
				}
			}
			if !resp.ExceededTransferLimit || len(resp.Features) == 0 {
				return
			}
			offset += len(resp.Features)
			c.logger.Debug("transfer limit exceeded, requesting next page", "offset", offset)
		}
	}
}

func (c *Client) queryPage(ctx context.Context, layerURL, token string, req detect.QueryRequest, offset int) (*queryResponse, error) {
	outFields := detect.WildcardFields
	if len(req.OutFields) > 0 {
		outFields = strings.Join(req.OutFields, ",")
	}
	params := url.Values{
		"where":     {req.Where},
		"outFields": {outFields},
		"token":     {token},
		"f":         {"json"},
	}
	if offset > 0 {
		params.Set("resultOffset", strconv.Itoa(offset))
	}

	var resp queryResponse
	if err := c.get(ctx, queryURL(layerURL), params, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, &detect.QueryError{Status: se.Status, Reason: se.Reason}
		}
		return nil, &detect.QueryError{Reason: err.Error()}
	}
	if resp.Error != nil {
		return nil, &detect.QueryError{Status: resp.Error.Code, Reason: resp.Error.Message}
	}
	return &resp, nil
}
