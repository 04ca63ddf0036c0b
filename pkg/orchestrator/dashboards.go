package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/retry"
)

// dashboardsKey is the cache key of the saved dashboard list.
const dashboardsKey = "dashboards:list"

var validate = validator.New(validator.WithRequiredStructEnabled())

// SaveDashboard saves the current chart under name. The cached dashboard
// list is invalidated so the next ListDashboards refetches.
func (o *Orchestrator) SaveDashboard(ctx context.Context, name string) (*core.Dashboard, error) {
	cur := o.store.State().DashboardView.CurrentChart
	if cur == nil {
		e := apierr.WithPhase(apierr.New(apierr.KindValidation, "Ask a question before saving a dashboard."), apierr.PhaseSave)
		o.observer.FlowFinished(FlowEvent{Flow: FlowSaveDashboard, Err: e})
		return nil, e
	}

	in := core.DashboardInput{
		Name:        strings.TrimSpace(name),
		Question:    cur.Question,
		SQL:         cur.SQL,
		ChartConfig: cur.Config,
	}
	return o.writeDashboard(ctx, FlowSaveDashboard, in, func(ctx context.Context) (*core.Dashboard, error) {
		return o.backend.SaveDashboard(ctx, in)
	})
}

// UpdateDashboard replaces a saved dashboard's contents.
func (o *Orchestrator) UpdateDashboard(ctx context.Context, id string, in core.DashboardInput) (*core.Dashboard, error) {
	in.Name = strings.TrimSpace(in.Name)
	return o.writeDashboard(ctx, FlowUpdateDashboard, in, func(ctx context.Context) (*core.Dashboard, error) {
		return o.backend.UpdateDashboard(ctx, id, in)
	})
}

// DeleteDashboard removes a saved dashboard.
func (o *Orchestrator) DeleteDashboard(ctx context.Context, id string) error {
	start := time.Now()
	defer o.dashboards.Invalidate(dashboardsKey)

	_, err := retry.Do(ctx, o.exec, string(FlowDeleteDashboard), o.policy(o.cfg.Timeouts.CRUD), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.backend.DeleteDashboard(ctx, id)
	})

	ev := FlowEvent{Flow: FlowDeleteDashboard, Duration: time.Since(start)}
	if err != nil && callerCancelled(ctx, err) {
		ev.Superseded = true
		o.observer.FlowFinished(ev)
		return errCancelled
	}
	if err != nil {
		ev.Err = phased(err, apierr.PhaseSave)
		o.observer.FlowFinished(ev)
		return ev.Err
	}
	o.observer.FlowFinished(ev)
	return nil
}

// ListDashboards returns the saved dashboards, cached with the dashboard
// TTL. The returned slice is the caller's to modify.
func (o *Orchestrator) ListDashboards(ctx context.Context) ([]core.Dashboard, error) {
	start := time.Now()
	_, hit := o.dashboards.Entry(dashboardsKey)

	list, err := o.dashboards.GetOrFetch(ctx, dashboardsKey, o.cfg.DashboardsTTL, func(ctx context.Context) ([]core.Dashboard, error) {
		return retry.Do(ctx, o.exec, string(FlowListDashboards), o.policy(o.cfg.Timeouts.CRUD), o.backend.ListDashboards)
	})

	ev := FlowEvent{Flow: FlowListDashboards, Duration: time.Since(start), CacheHit: hit}
	if err != nil && callerCancelled(ctx, err) {
		ev.Superseded = true
		o.observer.FlowFinished(ev)
		return nil, errCancelled
	}
	if err != nil {
		ev.Err = phased(err, apierr.PhaseLoad)
		o.observer.FlowFinished(ev)
		return nil, ev.Err
	}
	o.observer.FlowFinished(ev)
	return slices.Clone(list), nil
}

// writeDashboard validates in, runs write and invalidates the cached list.
// The list is invalidated even on failure: a write that timed out may
// still have landed.
func (o *Orchestrator) writeDashboard(ctx context.Context, flow Flow, in core.DashboardInput, write func(context.Context) (*core.Dashboard, error)) (*core.Dashboard, error) {
	start := time.Now()
	ev := FlowEvent{Flow: flow}
	defer func() {
		ev.Duration = time.Since(start)
		o.observer.FlowFinished(ev)
	}()

	if err := validateInput(in); err != nil {
		ev.Err = apierr.WithPhase(err, apierr.PhaseSave)
		return nil, ev.Err
	}

	defer o.dashboards.Invalidate(dashboardsKey)
	d, err := retry.Do(ctx, o.exec, string(flow), o.policy(o.cfg.Timeouts.CRUD), write)
	if err != nil && callerCancelled(ctx, err) {
		ev.Superseded = true
		return nil, errCancelled
	}
	if err != nil {
		ev.Err = phased(err, apierr.PhaseSave)
		o.logger.Error("dashboard write failed", "flow", flow, "kind", ev.Err.Kind, "error", ev.Err.Message)
		return nil, ev.Err
	}
	return d, nil
}

// validateInput checks a dashboard before it is sent to the backend.
func validateInput(in core.DashboardInput) *apierr.Error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		e := apierr.New(apierr.KindValidation, "The dashboard is invalid.")
		e.Err = err
		return e
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	e := apierr.New(apierr.KindValidation, strings.Join(msgs, "; "))
	e.Err = err
	return e
}
