package app

import (
	"detectedits-go/internal/database"
	"detectedits-go/internal/detect"
)

// runRecord converts a finished run into its history row.
func runRecord(layerURL string, res *detect.RunResult) database.Run {
	r := database.Run{
		RunID:      res.RunID,
		LayerURL:   layerURL,
		State:      string(res.State),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Records:    res.Records,
		Sent:       res.Sent,
		Failed:     res.Failed,
	}
	if res.Before != nil {
		r.WatermarkBefore = res.Before.Display
	}
	if res.After != nil {
		r.WatermarkAfter = res.After.Display
	}
	if res.Cause != nil {
		r.Error = res.Cause.Error()
	}
	return r
}

// fixedID hands out the same run id on every call, so the pipeline's run id
// matches the one already written in every log line.
type fixedID string

func (f fixedID) New() string { return string(f) }
