package orchestrator

import (
	"time"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/retry"
)

// Flow names a user flow reported to an Observer.
type Flow string

// Flows.
const (
	FlowAsk             Flow = "ask"
	FlowRunSQL          Flow = "run_sql"
	FlowUpload          Flow = "upload"
	FlowSaveDashboard   Flow = "save_dashboard"
	FlowUpdateDashboard Flow = "update_dashboard"
	FlowDeleteDashboard Flow = "delete_dashboard"
	FlowListDashboards  Flow = "list_dashboards"
	FlowOpenDashboard   Flow = "open_dashboard"
)

// FlowEvent describes one finished flow.
type FlowEvent struct {
	Flow       Flow
	Duration   time.Duration
	CacheHit   bool
	Superseded bool
	Err        *apierr.Error // nil on success
}

// Observer receives telemetry. Calls are synchronous; implementations must
// be fast and safe for concurrent use.
type Observer interface {
	AttemptFinished(retry.Attempt)
	FlowFinished(FlowEvent)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(retry.Attempt) {}
func (nopObserver) FlowFinished(FlowEvent)        {}
