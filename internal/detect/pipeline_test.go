package detect_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"detectedits-go/internal/artifact"
	"detectedits-go/internal/detect"
	"detectedits-go/internal/testutil"
	"detectedits-go/internal/transport"
	"detectedits-go/internal/watermark"
)

type harness struct {
	cfg       detect.RunConfig
	svc       *testutil.FakeFeatureService
	store     *watermark.MemoryStore
	transport *transport.MemoryTransport
	artifacts *artifact.MemoryWriter
}

func newHarness() *harness {
	return &harness{
		cfg: testRunConfig(),
		svc: testutil.NewFakeFeatureService(
			detect.NewFieldDescriptor("Status", "Status", "esriFieldTypeString"),
			detect.NewFieldDescriptor("NAME", "Incident Name", "esriFieldTypeString"),
		),
		store:     watermark.NewMemoryStore(),
		transport: transport.NewMemoryTransport(),
		artifacts: artifact.NewMemoryWriter(),
	}
}

func (h *harness) run(t *testing.T) (*detect.RunResult, error) {
	t.Helper()
	p := detect.NewPipeline(h.cfg, h.svc, h.store, h.transport, h.artifacts,
		detect.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	return p.Run(context.Background())
}

func (h *harness) setWatermark(t *testing.T, w detect.Watermark) {
	t.Helper()
	if err := h.store.Write(context.Background(), h.cfg.LayerID, w); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) watermark(t *testing.T) detect.Watermark {
	t.Helper()
	w, err := h.store.Read(context.Background(), h.cfg.LayerID)
	if err != nil {
		t.Fatalf("reading watermark: %v", err)
	}
	return w
}

func status(v string) detect.Attribute {
	return detect.Attribute{Name: "Status", Value: v}
}

func TestPipeline_FirstRunBootstraps(t *testing.T) {
	h := newHarness()
	h.svc.Add(1600000000000, nil, status("Open"))
	h.svc.Add(1700000000123, nil, status("Closed"))

	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != detect.StateBootstrap {
		t.Errorf("State = %s, want %s", res.State, detect.StateBootstrap)
	}
	if !res.State.Clean() {
		t.Error("bootstrap is not a clean exit")
	}
	if res.RunID != "id-1" {
		t.Errorf("RunID = %q, want %q", res.RunID, "id-1")
	}

	want := detect.WatermarkFromMillis(1700000000123)
	if got := h.watermark(t); got != want {
		t.Errorf("watermark = %+v, want %+v", got, want)
	}
	if h.transport.Attempts() != 0 {
		t.Errorf("sent %d notifications on first run, want 0", h.transport.Attempts())
	}
	if len(h.svc.Queries) != 0 {
		t.Errorf("issued %d delta queries on first run, want 0", len(h.svc.Queries))
	}
}

func TestPipeline_StrictGreaterThan(t *testing.T) {
	h := newHarness()
	h.svc.Add(1700000000123, nil, status("at watermark"))
	h.svc.Add(1700000000124, nil, status("after watermark"))
	h.setWatermark(t, detect.WatermarkFromMillis(1700000000123))

	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Records != 1 {
		t.Fatalf("Records = %d, want 1", res.Records)
	}
	msgs := h.transport.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	if strings.Contains(msgs[0].Body, "at watermark") {
		t.Errorf("record equal to the watermark was reported:\n%s", msgs[0].Body)
	}
	if !strings.Contains(msgs[0].Body, "after watermark") {
		t.Errorf("record after the watermark missing:\n%s", msgs[0].Body)
	}

	if got := h.svc.Queries[0].Where; got != "CreationDate>'11/14/2023 10:13:20.123000 PM'" {
		t.Errorf("where = %q", got)
	}
}

func TestPipeline_NoAdditions(t *testing.T) {
	h := newHarness()
	h.svc.Add(1700000000123, nil, status("old"))
	h.setWatermark(t, detect.WatermarkFromMillis(1700000000123))

	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != detect.StateDone || res.Records != 0 {
		t.Errorf("result = %+v, want done with no records", res)
	}
	if h.transport.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", h.transport.Attempts())
	}
	if res.After == nil || *res.After != detect.WatermarkFromMillis(1700000000123) {
		t.Errorf("After = %+v", res.After)
	}
}

func TestPipeline_WatermarkMonotonic(t *testing.T) {
	h := newHarness()
	h.svc.Add(1000000000000, nil, status("a"))

	var last float64
	steps := []func(){
		func() { h.svc.Add(1100000000000, nil, status("b")) },
		func() {},
		func() {
			// records deleted: the layer max moves backwards
			h.svc.Clear()
			h.svc.Add(900000000000, nil, status("c"))
		},
		func() { h.svc.Add(1200000000000, nil, status("d")) },
	}

	if _, err := h.run(t); err != nil {
		t.Fatalf("bootstrap Run() error = %v", err)
	}
	last = h.watermark(t).Timestamp

	for i, step := range steps {
		step()
		res, err := h.run(t)
		if err != nil {
			t.Fatalf("run %d: error = %v", i, err)
		}
		got := h.watermark(t).Timestamp
		if got < last {
			t.Errorf("run %d: watermark moved backwards from %v to %v", i, last, got)
		}
		if res.Before == nil || res.After == nil || res.After.Timestamp < res.Before.Timestamp {
			t.Errorf("run %d: Before = %+v, After = %+v", i, res.Before, res.After)
		}
		last = got
	}

	if last != 1200000000 {
		t.Errorf("final watermark = %v, want 1200000000", last)
	}
}

func TestPipeline_UnknownField(t *testing.T) {
	h := newHarness()
	h.cfg.FieldsToReport = []string{"Status", "Bogus"}
	h.svc.Add(1700000000123, nil, status("Open"))
	before := detect.WatermarkFromMillis(1600000000000)
	h.setWatermark(t, before)

	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v, want clean exit", err)
	}
	if res.State != detect.StateUnknownFields {
		t.Errorf("State = %s, want %s", res.State, detect.StateUnknownFields)
	}
	var ufe *detect.UnknownFieldError
	if !errors.As(res.Cause, &ufe) || len(ufe.Names) != 1 || ufe.Names[0] != "Bogus" {
		t.Errorf("Cause = %v, want UnknownFieldError naming Bogus", res.Cause)
	}
	if len(h.svc.Queries) != 0 {
		t.Errorf("issued %d queries, want 0", len(h.svc.Queries))
	}
	if got := h.watermark(t); got != before {
		t.Errorf("watermark changed to %+v", got)
	}
	arts := h.artifacts.Artifacts()
	if len(arts) != 1 || !strings.Contains(arts[0], "Bogus") || !strings.Contains(arts[0], "fieldstoreport") {
		t.Errorf("artifacts = %q", arts)
	}
}

func TestPipeline_BatchedMatchesPerRecord(t *testing.T) {
	build := func(oneMail bool) *harness {
		h := newHarness()
		h.cfg.OneMail = oneMail
		h.svc.Add(1700000001000, &detect.Point{X: -87.2, Y: 30.4}, status("Open"), detect.Attribute{Name: "NAME", Value: "Fire"})
		h.svc.Add(1700000002000, nil, status("Closed"), detect.Attribute{Name: "NAME", Value: "Flood"})
		h.svc.Add(1700000003000, &detect.Point{X: 1.5, Y: 2}, status("Open"), detect.Attribute{Name: "NAME", Value: nil})
		h.setWatermark(t, detect.WatermarkFromMillis(1700000000000))
		return h
	}

	perRecord := build(false)
	if _, err := perRecord.run(t); err != nil {
		t.Fatalf("per-record Run() error = %v", err)
	}
	batched := build(true)
	if _, err := batched.run(t); err != nil {
		t.Fatalf("batched Run() error = %v", err)
	}

	since := detect.WatermarkFromMillis(1700000000000).Since()
	header := "New incidents\t" + testLayerURL + "\n\n"

	var sections strings.Builder
	for _, m := range perRecord.transport.Messages() {
		prefix := header + "\nFeature added since " + since + ":\n"
		if !strings.HasPrefix(m.Body, prefix) {
			t.Fatalf("per-record body missing prefix:\n%q", m.Body)
		}
		sections.WriteString(strings.TrimPrefix(m.Body, prefix))
	}

	msgs := batched.transport.Messages()
	if len(msgs) != 1 {
		t.Fatalf("batched sent %d messages, want 1", len(msgs))
	}
	prefix := header + "\nFeature(s) added since " + since + ":\n"
	if !strings.HasPrefix(msgs[0].Body, prefix) {
		t.Fatalf("batched body missing prefix:\n%q", msgs[0].Body)
	}
	if got := strings.TrimPrefix(msgs[0].Body, prefix); got != sections.String() {
		t.Errorf("batched sections differ from per-record sections\nbatched:\n%q\nper-record:\n%q", got, sections.String())
	}
	if len(perRecord.transport.Messages()) != 3 {
		t.Errorf("per-record sent %d messages, want 3", len(perRecord.transport.Messages()))
	}
}

func TestPipeline_TransportFailureIsolated(t *testing.T) {
	h := newHarness()
	h.transport.FailOn[1] = true
	h.transport.Err = errors.New("smtp: 421 service not available")
	h.svc.Add(1700000001000, nil, status("Open"))
	h.svc.Add(1700000002000, nil, status("Closed"))
	h.setWatermark(t, detect.WatermarkFromMillis(1700000000000))

	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v, want transport failure contained", err)
	}
	if res.State != detect.StateDone {
		t.Errorf("State = %s, want %s", res.State, detect.StateDone)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("Sent = %d, Failed = %d; want 1, 1", res.Sent, res.Failed)
	}
	if got := h.watermark(t); got != detect.WatermarkFromMillis(1700000002000) {
		t.Errorf("watermark = %+v, want advanced", got)
	}
	arts := h.artifacts.Artifacts()
	if len(arts) != 1 || !strings.Contains(arts[0], "421 service not available") {
		t.Errorf("artifacts = %q", arts)
	}
}

func TestPipeline_ExampleScenario(t *testing.T) {
	for _, sendFails := range []bool{false, true} {
		name := "send succeeds"
		if sendFails {
			name = "send fails"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			h.cfg.FieldsToReport = []string{"Status"}
			h.cfg.OneMail = true
			if sendFails {
				h.transport.FailOn[1] = true
				h.transport.Err = errors.New("stubbed failure")
			}
			h.setWatermark(t, detect.NewWatermark(1577836800))
			if got := h.watermark(t).Display; got != "01/01/2020 12:00:00.000000 AM" {
				t.Fatalf("initial watermark display = %q", got)
			}
			h.svc.Add(1700000000123, nil, status("Open"))

			res, err := h.run(t)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			wantOut := []string{"Status", "CreationDate", "Creator"}
			if got := h.svc.Queries[0].OutFields; strings.Join(got, ",") != strings.Join(wantOut, ",") {
				t.Errorf("outFields = %v, want %v", got, wantOut)
			}
			if got := h.watermark(t); got != detect.WatermarkFromMillis(1700000000123) {
				t.Errorf("watermark = %+v, want new max", got)
			}

			if sendFails {
				if len(h.transport.Messages()) != 0 || res.Failed != 1 {
					t.Errorf("delivered %d messages, Failed = %d", len(h.transport.Messages()), res.Failed)
				}
				return
			}

			msgs := h.transport.Messages()
			if len(msgs) != 1 {
				t.Fatalf("len(messages) = %d, want 1", len(msgs))
			}
			if n := strings.Count(msgs[0].Body, "\tStatus: Open\n"); n != 1 {
				t.Errorf("body has %d Status lines, want 1:\n%s", n, msgs[0].Body)
			}
			if strings.Contains(msgs[0].Body, "Incident Location") {
				t.Errorf("record without geometry has a location line:\n%s", msgs[0].Body)
			}
		})
	}
}

func TestPipeline_HandledFailures(t *testing.T) {
	before := detect.WatermarkFromMillis(1600000000000)

	tests := []struct {
		name      string
		setup     func(h *harness)
		wantState detect.RunState
		wantErr   bool
		wantText  string
	}{
		{
			name: "token rejected",
			setup: func(h *harness) {
				h.svc.TokenErr = &detect.AuthError{Message: "Invalid credentials", Details: []string{"bad password"}}
			},
			wantState: detect.StateAuthFailed,
			wantErr:   true,
			wantText:  "Invalid credentials\nbad password",
		},
		{
			name: "tracking disabled",
			setup: func(h *harness) {
				h.svc.Info.Tracking = detect.EditTracking{}
			},
			wantState: detect.StateTrackingUnavailable,
			wantText:  "Editor tracking is not enabled",
		},
		{
			name: "metadata unavailable",
			setup: func(h *harness) {
				h.svc.InfoErr = errors.New("layer info: Invalid token.")
			},
			wantState: detect.StateMetadataFailed,
			wantErr:   true,
			wantText:  "Invalid token.",
		},
		{
			name: "statistics error",
			setup: func(h *harness) {
				h.svc.MaxErr = &detect.StatisticsError{Message: "Unable to perform query.", Details: []string{"Invalid field"}}
			},
			wantState: detect.StateStatisticsFailed,
			wantErr:   true,
			wantText:  "Unable to perform query.\nInvalid field",
		},
		{
			name: "query error",
			setup: func(h *harness) {
				h.svc.QueryErr = &detect.QueryError{Status: 500, Reason: "Internal Server Error"}
			},
			wantState: detect.StateQueryFailed,
			wantText:  "500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.svc.Add(1700000000123, nil, status("Open"))
			h.setWatermark(t, before)
			tt.setup(h)

			res, err := h.run(t)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.State != tt.wantState {
				t.Errorf("State = %s, want %s", res.State, tt.wantState)
			}
			if res.State.Clean() == tt.wantErr {
				t.Errorf("Clean() = %v for %s", res.State.Clean(), res.State)
			}
			if got := h.watermark(t); got != before {
				t.Errorf("watermark changed to %+v", got)
			}
			if h.transport.Attempts() != 0 {
				t.Errorf("Attempts() = %d, want 0", h.transport.Attempts())
			}
			arts := h.artifacts.Artifacts()
			if len(arts) != 1 || !strings.Contains(arts[0], tt.wantText) {
				t.Errorf("artifacts = %q, want one containing %q", arts, tt.wantText)
			}
		})
	}
}

// brokenStore fails every operation.
type brokenStore struct{ err error }

func (s brokenStore) Read(context.Context, int) (detect.Watermark, error) {
	return detect.Watermark{}, s.err
}

func (s brokenStore) Write(context.Context, int, detect.Watermark) error { return s.err }

func TestPipeline_StoreFailure(t *testing.T) {
	h := newHarness()
	h.svc.Add(1700000000123, nil, status("Open"))
	storeErr := errors.New("disk full")

	p := detect.NewPipeline(h.cfg, h.svc, brokenStore{err: storeErr}, h.transport, h.artifacts,
		detect.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	res, err := p.Run(context.Background())

	if !errors.Is(err, storeErr) {
		t.Fatalf("Run() error = %v, want store error", err)
	}
	if res.State != detect.StateStoreFailed || res.State.Clean() {
		t.Errorf("State = %s", res.State)
	}
	if len(h.artifacts.Artifacts()) != 1 {
		t.Errorf("artifacts = %d, want 1", len(h.artifacts.Artifacts()))
	}
}

func TestPipeline_CancelledDuringQuery(t *testing.T) {
	h := newHarness()
	h.svc.Add(1700000000123, nil, status("Open"))
	before := detect.WatermarkFromMillis(1600000000000)
	h.setWatermark(t, before)
	// The HTTP client reports an aborted request as a failed query.
	h.svc.QueryErr = &detect.QueryError{Status: 0, Reason: "context canceled"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := detect.NewPipeline(h.cfg, h.svc, h.store, h.transport, h.artifacts,
		detect.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	res, err := p.Run(ctx)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.State != detect.StateCancelled {
		t.Errorf("State = %s, want %s", res.State, detect.StateCancelled)
	}
	if res.State.Clean() {
		t.Error("a cancelled run must not exit cleanly")
	}
	if got := h.watermark(t); got != before {
		t.Errorf("watermark changed to %+v", got)
	}
	if h.transport.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", h.transport.Attempts())
	}
}
