package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/cache"
	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/retry"
	"github.com/leapstack-labs/leapviz/pkg/viewstate"
)

// Loading stages shown while a question is in flight.
const (
	StageTranslating      = "translating"
	StageExecuting        = "executing"
	StageLoadingDashboard = "loading dashboard"
)

// Answer is the outcome of a question or SQL run. Answers are shared with
// the query cache and must be treated as read-only.
type Answer struct {
	Question string            `json:"question"`
	SQL      string            `json:"sql"`
	Result   *core.QueryResult `json:"result"`
	Chart    core.ChartConfig  `json:"chart"`
}

func answerSize(a *Answer) int {
	if a == nil {
		return 0
	}
	n := len(a.Question) + len(a.SQL)
	if a.Result != nil {
		// Rough per-cell estimate; exact sizing is not worth the reflection.
		n += len(a.Result.Rows) * len(a.Result.Columns) * 16
	}
	return n
}

// request describes one question-like flow through run.
type request struct {
	flow     Flow
	question string
	sql      string // known up front when no translation is needed
	key      string
	stage    string
	phase    apierr.Phase
	chartID  string
	title    string
	chart    *core.ChartConfig // overrides the selected chart
	fetch    func(ctx context.Context) (*Answer, error)
}

// Ask answers a natural-language question: translate, execute, pick a chart
// and publish it to the dashboard view, switching to it from the data view.
//
// Results are cached per dataset and normalized question. A newer question
// or Cancel makes this one stale: it then returns ErrSuperseded and leaves
// the store untouched.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apierr.WithPhase(apierr.New(apierr.KindValidation, "Enter a question."), apierr.PhaseTranslation)
	}

	key := cache.Key("ask", o.currentTable(), cache.NormalizeText(question))
	return o.run(ctx, request{
		flow:     FlowAsk,
		question: question,
		key:      key,
		stage:    StageTranslating,
		phase:    apierr.PhaseTranslation,
		chartID:  key,
		fetch: func(ctx context.Context) (*Answer, error) {
			return o.answerQuestion(ctx, key, question)
		},
	})
}

// RunSQL executes sql directly, skipping translation. question is the
// natural-language context passed to the backend and shown with the chart.
func (o *Orchestrator) RunSQL(ctx context.Context, sql, question string) (*Answer, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, apierr.WithPhase(apierr.New(apierr.KindValidation, "Enter a SQL query."), apierr.PhaseExecution)
	}

	key := execKey(o.currentTable(), sql, question)
	return o.run(ctx, request{
		flow:     FlowRunSQL,
		question: question,
		sql:      sql,
		key:      key,
		stage:    StageExecuting,
		phase:    apierr.PhaseExecution,
		chartID:  key,
		fetch: func(ctx context.Context) (*Answer, error) {
			return o.executeSQL(ctx, question, sql)
		},
	})
}

// OpenDashboard loads a saved dashboard, re-runs its SQL against the
// current dataset and shows it with its saved chart configuration.
func (o *Orchestrator) OpenDashboard(ctx context.Context, id string) (*core.Dashboard, *Answer, error) {
	start := time.Now()
	seq := o.questions.Next()
	o.beginLoading(seq, StageLoadingDashboard, "", "")

	d, err := retry.Do(ctx, o.exec, "get_dashboard", o.policy(o.cfg.Timeouts.CRUD), func(ctx context.Context) (*core.Dashboard, error) {
		return o.backend.GetDashboard(ctx, id)
	})
	if err == nil && d == nil {
		err = apierr.New(apierr.KindNotFound, "")
	}
	if err != nil {
		if callerCancelled(ctx, err) {
			o.retireQuestion(seq)
			o.observer.FlowFinished(FlowEvent{Flow: FlowOpenDashboard, Duration: time.Since(start), Superseded: true})
			return nil, nil, errCancelled
		}
		e := phased(err, apierr.PhaseLoad)
		ev := FlowEvent{Flow: FlowOpenDashboard, Duration: time.Since(start), Err: e}
		if !o.failQuestion(seq, e) {
			ev.Superseded = true
			o.observer.FlowFinished(ev)
			return nil, nil, ErrSuperseded
		}
		o.observer.FlowFinished(ev)
		return nil, nil, e
	}

	cfg := d.ChartConfig
	ans, err := o.run(ctx, request{
		flow:     FlowOpenDashboard,
		question: d.Question,
		sql:      d.SQL,
		key:      execKey(o.currentTable(), d.SQL, d.Question),
		stage:    StageExecuting,
		phase:    apierr.PhaseLoad,
		chartID:  "dashboard:" + d.ID,
		title:    d.Name,
		chart:    &cfg,
		fetch: func(ctx context.Context) (*Answer, error) {
			return o.executeSQL(ctx, d.Question, d.SQL)
		},
	})
	if err != nil {
		return d, nil, err
	}
	return d, ans, nil
}

func execKey(table, sql, question string) string {
	return cache.Key("exec", table, cache.NormalizeSQL(sql), cache.NormalizeText(question))
}

// run drives one question-like flow: loading state, cached fetch, and an
// all-or-nothing publish of the result or error if the request is current.
func (o *Orchestrator) run(ctx context.Context, req request) (*Answer, error) {
	start := time.Now()
	seq := o.questions.NextKey(req.key)
	o.beginLoading(seq, req.stage, req.question, req.sql)

	_, hit := o.queries.Entry(req.key)
	ev := FlowEvent{Flow: req.flow, CacheHit: hit}
	defer func() {
		ev.Duration = time.Since(start)
		o.observer.FlowFinished(ev)
	}()

	ans, err := o.queries.GetOrFetch(ctx, req.key, o.cfg.QueryTTL, req.fetch)
	if err != nil {
		if callerCancelled(ctx, err) {
			ev.Superseded = true
			o.retireQuestion(seq)
			o.logger.Debug("question cancelled by caller", "flow", req.flow)
			return nil, errCancelled
		}
		e := phased(err, req.phase)
		ev.Err = e
		if !o.failQuestion(seq, e) {
			ev.Superseded = true
			return nil, ErrSuperseded
		}
		o.logger.Error("question failed",
			"flow", req.flow,
			"phase", e.Phase,
			"kind", e.Kind,
			"status", e.Status,
			"error", e.Message,
		)
		return nil, e
	}

	out := ans
	if req.chart != nil {
		cp := *ans
		cp.Chart = *req.chart
		out = &cp
	}

	c := viewstate.Chart{
		ID:       req.chartID,
		Title:    req.title,
		Question: out.Question,
		SQL:      out.SQL,
		Config:   out.Chart,
		Result:   out.Result,
	}
	applied := o.questions.IfCurrent(seq, func() {
		o.store.UpdateDashboardView(func(d *viewstate.DashboardView) {
			d.QueryResults = out.Result
			d.AddChart(c)
			d.CurrentQuery = out.Question
			d.CurrentSQL = out.SQL
			d.IsLoading = false
			d.Stage = ""
			d.Error = nil
		}, true)
	})
	if !applied {
		ev.Superseded = true
		o.logger.Debug("discarding superseded result", "flow", req.flow)
		return nil, ErrSuperseded
	}
	return out, nil
}

// answerQuestion translates then executes. Its result is what the query
// cache stores for a question, and every question waiting on key shares it.
func (o *Orchestrator) answerQuestion(ctx context.Context, key, question string) (*Answer, error) {
	tr, err := retry.Do(ctx, o.exec, "translate", o.policy(o.cfg.Timeouts.Translate), func(ctx context.Context) (*core.Translation, error) {
		return o.backend.Translate(ctx, question)
	})
	if err != nil {
		return nil, phased(err, apierr.PhaseTranslation)
	}

	var sql string
	if tr != nil {
		sql = strings.TrimSpace(tr.SQL)
	}
	if sql == "" {
		return nil, apierr.WithPhase(
			apierr.New(apierr.KindUnknown, "The question could not be turned into a query."),
			apierr.PhaseTranslation,
		)
	}

	o.questions.IfCurrentKey(key, func() {
		o.store.UpdateDashboardView(func(d *viewstate.DashboardView) {
			d.Stage = StageExecuting
			d.CurrentSQL = sql
		}, false)
	})
	return o.executeSQL(ctx, question, sql)
}

func (o *Orchestrator) executeSQL(ctx context.Context, question, sql string) (*Answer, error) {
	res, err := retry.Do(ctx, o.exec, "execute", o.policy(o.cfg.Timeouts.Execute), func(ctx context.Context) (*core.QueryResult, error) {
		return o.backend.Execute(ctx, sql, question)
	})
	if err != nil {
		return nil, phased(err, apierr.PhaseExecution)
	}
	if res == nil {
		res = &core.QueryResult{}
	}
	return &Answer{
		Question: question,
		SQL:      sql,
		Result:   res,
		Chart:    o.cfg.Chart.Select(res.Columns, res.Rows),
	}, nil
}

func (o *Orchestrator) beginLoading(seq uint64, stage, question, sql string) {
	o.questions.IfCurrent(seq, func() {
		o.store.UpdateDashboardView(func(d *viewstate.DashboardView) {
			d.IsLoading = true
			d.Error = nil
			d.Stage = stage
			if question != "" {
				d.CurrentQuery = question
			}
			if sql != "" {
				d.CurrentSQL = sql
			}
		}, false)
	})
}

// failQuestion records e in the dashboard view if seq is current.
func (o *Orchestrator) failQuestion(seq uint64, e *apierr.Error) bool {
	return o.questions.IfCurrent(seq, func() {
		o.store.UpdateDashboardView(func(d *viewstate.DashboardView) {
			d.IsLoading = false
			d.Stage = ""
			d.Error = e
		}, false)
	})
}

// retireQuestion ends a question the caller cancelled: loading clears, no
// error is recorded and nothing the question started can publish later.
func (o *Orchestrator) retireQuestion(seq uint64) {
	o.questions.Retire(seq, func() {
		o.store.UpdateDashboardView(func(d *viewstate.DashboardView) {
			d.IsLoading = false
			d.Stage = ""
		}, false)
	})
}

// phased classifies err and tags it with phase unless it already has one.
func phased(err error, phase apierr.Phase) *apierr.Error {
	var e *apierr.Error
	if !errors.As(err, &e) {
		e = apierr.Classify(err)
	}
	if e.Phase == "" {
		e = apierr.WithPhase(e, phase)
	}
	return e
}
