package orchestrator

import (
	"bytes"
	"context"
	"io"
	"slices"
	"time"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/retry"
	"github.com/leapstack-labs/leapviz/pkg/viewstate"
)

// Upload sends a dataset (or asks for the demo dataset) and publishes its
// description to the data view. The dashboard view is never touched.
//
// Query results cached for the previous dataset are dropped once the
// backend accepts the upload.
func (o *Orchestrator) Upload(ctx context.Context, req core.UploadRequest) (*core.TableInfo, error) {
	start := time.Now()
	seq := o.uploads.Next()
	ev := FlowEvent{Flow: FlowUpload}
	defer func() {
		ev.Duration = time.Since(start)
		o.observer.FlowFinished(ev)
	}()

	o.uploads.IfCurrent(seq, func() {
		o.store.UpdateDataView(func(d *viewstate.DataView) {
			d.IsLoading = true
			d.Error = nil
		})
	})

	fail := func(e *apierr.Error) (*core.TableInfo, error) {
		ev.Err = e
		if !o.failUpload(seq, e) {
			ev.Superseded = true
			return nil, ErrSuperseded
		}
		o.logger.Error("upload failed", "kind", e.Kind, "status", e.Status, "error", e.Message)
		return nil, e
	}

	// Buffer the content so every attempt sends the whole file.
	var data []byte
	if !req.UseDemo {
		if req.Content == nil {
			return fail(apierr.WithPhase(apierr.New(apierr.KindValidation, "Choose a file to upload."), apierr.PhaseUpload))
		}
		b, err := io.ReadAll(req.Content)
		if err != nil {
			e := apierr.New(apierr.KindValidation, "The file could not be read.")
			e.Err = err
			return fail(apierr.WithPhase(e, apierr.PhaseUpload))
		}
		data = b
	}

	info, err := retry.Do(ctx, o.exec, "upload", o.uploadPolicy(), func(ctx context.Context) (*core.TableInfo, error) {
		attempt := req
		if !req.UseDemo {
			attempt.Content = bytes.NewReader(data)
		}
		return o.backend.Upload(ctx, attempt)
	})
	if err == nil && info == nil {
		err = apierr.New(apierr.KindServer, "The upload returned no dataset.")
	}
	if err != nil {
		if callerCancelled(ctx, err) {
			ev.Superseded = true
			o.uploads.Retire(seq, func() {
				o.store.UpdateDataView(func(d *viewstate.DataView) { d.IsLoading = false })
			})
			return nil, errCancelled
		}
		return fail(phased(err, apierr.PhaseUpload))
	}

	// The backend's dataset changed whether or not this upload is current.
	o.queries.Clear()

	published := cloneTableInfo(info)
	applied := o.uploads.IfCurrent(seq, func() {
		o.setTable(info.Table)
		o.store.UpdateDataView(func(d *viewstate.DataView) {
			d.TableInfo = published
			d.PreviewRows = published.SampleRows
			d.IsLoading = false
			d.Error = nil
		})
	})
	if !applied {
		ev.Superseded = true
		return nil, ErrSuperseded
	}
	o.logger.Info("dataset loaded", "table", info.Table, "columns", len(info.Columns), "rows", info.TotalRows)
	return info, nil
}

// cloneTableInfo copies info deeply enough that the caller's copy can be
// modified without reaching the published snapshot.
func cloneTableInfo(info *core.TableInfo) *core.TableInfo {
	cp := *info
	cp.Columns = slices.Clone(info.Columns)
	if info.SampleRows != nil {
		cp.SampleRows = make([][]any, len(info.SampleRows))
		for i, row := range info.SampleRows {
			cp.SampleRows[i] = slices.Clone(row)
		}
	}
	return &cp
}

func (o *Orchestrator) failUpload(seq uint64, e *apierr.Error) bool {
	return o.uploads.IfCurrent(seq, func() {
		o.store.UpdateDataView(func(d *viewstate.DataView) {
			d.IsLoading = false
			d.Error = e
		})
	})
}

// NewDashboard starts over: in-flight requests become stale, both views are
// cleared independently, cached query results are dropped and the data view
// is shown.
func (o *Orchestrator) NewDashboard() {
	o.questions.Cancel()
	o.uploads.Cancel()
	o.queries.Clear()
	o.setTable("")

	o.store.ResetDashboardView()
	o.store.ResetDataView()
	o.store.SwitchView(viewstate.ViewData)
}

// Cancel makes the in-flight question stale; its eventual result is
// discarded. There is no network cancellation.
func (o *Orchestrator) Cancel() {
	o.questions.Cancel()
	o.store.UpdateDashboardView(func(d *viewstate.DashboardView) {
		d.IsLoading = false
		d.Stage = ""
	}, false)
}
