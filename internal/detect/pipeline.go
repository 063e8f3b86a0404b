package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Pipeline runs one pass of change detection: authenticate, read metadata,
// compare the layer's newest creation date with the stored watermark, report
// the records created since, and advance the watermark.
type Pipeline struct {
	cfg       RunConfig
	service   FeatureService
	store     WatermarkStore
	transport Transport
	artifacts ArtifactWriter
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewPipeline creates a Pipeline with the provided dependencies.
func NewPipeline(cfg RunConfig, service FeatureService, store WatermarkStore, transport Transport, artifacts ArtifactWriter, logger Logger, clock Clock, idgen IDGenerator) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		service:   service,
		store:     store,
		transport: transport,
		artifacts: artifacts,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Run executes the pipeline once. Handled early exits (tracking disabled,
// unknown fields, failed delta query, first-run bootstrap) return a result
// and a nil error. Failures that must end the process non-zero (token,
// statistics, watermark storage) return the result and the error.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{
		RunID:     p.idgen.New(),
		State:     StateInit,
		StartedAt: p.clock.Now(),
	}
	defer func() { res.FinishedAt = p.clock.Now() }()

	p.logger.Info("run started", "run_id", res.RunID, "layer", p.cfg.LayerURL)

	token, err := p.service.GenerateToken(ctx, p.cfg.SharingURL, p.cfg.Username, p.cfg.Password, p.cfg.Referer)
	if err != nil {
		return p.fail(res, StateAuthFailed, fmt.Errorf("obtaining token: %w", err))
	}

	info, err := p.service.LayerInfo(ctx, p.cfg.LayerURL, token)
	if err != nil {
		if errors.Is(err, ErrTrackingNotEnabled) {
			return p.stop(res, StateTrackingUnavailable, err), nil
		}
		return p.fail(res, StateMetadataFailed, fmt.Errorf("fetching layer info: %w", err))
	}

	maxMillis, err := p.service.MaxTimestamp(ctx, p.cfg.LayerURL, token, info.Tracking.CreationDateField)
	if err != nil {
		return p.fail(res, StateStatisticsFailed, fmt.Errorf("reading max creation date: %w", err))
	}
	current := WatermarkFromMillis(maxMillis)

	before, err := p.store.Read(ctx, p.cfg.LayerID)
	if errors.Is(err, ErrWatermarkNotFound) {
		return p.bootstrap(ctx, res, current)
	}
	if err != nil {
		return p.fail(res, StateStoreFailed, fmt.Errorf("reading watermark: %w", err))
	}
	res.Before = &before

	fields := NewFieldSet(info.Fields)
	outFields, err := ResolveOutFields(p.cfg.FieldsToReport, fields, info.Tracking)
	if err != nil {
		return p.stop(res, StateUnknownFields, err), nil
	}

	res.State = StateQuerying
	req := QueryRequest{
		Where:     DeltaFilter(info.Tracking.CreationDateField, before),
		OutFields: outFields,
	}
	p.logger.Info("querying for additions", "where", req.Where, "out_fields", strings.Join(outFields, ","))

	var records []ChangeRecord
	for rec, err := range p.service.Query(ctx, p.cfg.LayerURL, token, req) {
		if err != nil {
			if ctx.Err() != nil {
				return p.fail(res, StateCancelled, fmt.Errorf("querying for additions: %w", ctx.Err()))
			}
			return p.stop(res, StateQueryFailed, err), nil
		}
		records = append(records, rec)
	}
	res.Records = len(records)

	if len(records) == 0 {
		p.logger.Info("there are no additions to the service")
	} else {
		res.State = StateFormatting
		formatter := NewReportFormatter(p.cfg, fields)
		res.State = StateNotifying
		notifier := NewNotifier(p.cfg, p.transport, formatter, p.artifacts, p.logger)
		nr := notifier.Notify(ctx, records, before)
		res.Sent, res.Failed = nr.Sent, nr.Failed
		p.logger.Info("additions reported", "records", len(records), "sent", nr.Sent, "failed", nr.Failed)
	}

	// The layer's max read before the query is persisted, not the newest
	// reported record. A max that moved backwards never rewinds the mark.
	res.State = StatePersisting
	next := current
	if before.Timestamp > current.Timestamp {
		next = before
	}
	if err := p.store.Write(ctx, p.cfg.LayerID, next); err != nil {
		return p.fail(res, StateStoreFailed, fmt.Errorf("writing watermark: %w", err))
	}
	res.After = &next
	res.State = StateDone

	p.logger.Info("run complete", "run_id", res.RunID, "watermark", next.Display,
		"elapsed", p.clock.Now().Sub(res.StartedAt).String())
	return res, nil
}

// bootstrap establishes the baseline on first run. Nothing is queried or
// reported, so pre-existing records never produce notifications.
func (p *Pipeline) bootstrap(ctx context.Context, res *RunResult, current Watermark) (*RunResult, error) {
	if err := p.store.Write(ctx, p.cfg.LayerID, current); err != nil {
		return p.fail(res, StateStoreFailed, fmt.Errorf("writing initial watermark: %w", err))
	}
	res.After = &current
	res.State = StateBootstrap
	p.logger.Info("initial watermark written", "watermark", current.Display)
	return res, nil
}

// stop ends the run in a clean terminal state.
func (p *Pipeline) stop(res *RunResult, state RunState, cause error) *RunResult {
	res.State = state
	res.Cause = cause
	p.logger.Warn("run stopped", "state", string(state), "error", cause)
	p.writeArtifact(cause)
	return res
}

// fail ends the run in a state the process reports as a failure.
func (p *Pipeline) fail(res *RunResult, state RunState, err error) (*RunResult, error) {
	res.State = state
	res.Cause = err
	p.logger.Error("run failed", "state", string(state), "error", err)
	p.writeArtifact(err)
	return res, err
}

func (p *Pipeline) writeArtifact(err error) {
	path, werr := p.artifacts.Write(describe(err))
	if werr != nil {
		p.logger.Error("writing error artifact", "error", werr)
		return
	}
	p.logger.Info("error artifact written", "path", path)
}

// describe renders a failure for an error artifact, with the remote's
// message and details on separate lines where the error carries them.
func describe(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return remoteText(authErr.Message, authErr.Details, "obtaining a token")
	}
	var statErr *StatisticsError
	if errors.As(err, &statErr) {
		return remoteText(statErr.Message, statErr.Details, "reading the max creation date")
	}
	var fieldErr *UnknownFieldError
	if errors.As(err, &fieldErr) {
		return fmt.Sprintf("The following requested field(s) are not in the service: %s\n"+
			"Please check the fieldstoreport key in the configuration file", strings.Join(fieldErr.Names, ", "))
	}
	if errors.Is(err, ErrTrackingNotEnabled) {
		return "Editor tracking is not enabled . . . Returning"
	}
	return err.Error()
}

func remoteText(message string, details []string, during string) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n")
	if len(details) > 0 {
		b.WriteString(details[0])
	}
	fmt.Fprintf(&b, "\n\n(while %s)", during)
	return b.String()
}
