package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/leapstack-labs/leapviz/internal/translate"
	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

// Status maps an engine error to an HTTP status and a client-facing
// message. Unknown errors become 500 with a generic message.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNoDataset):
		return http.StatusUnprocessableEntity, "Upload a dataset before asking a question."
	case errors.Is(err, ErrUnsupportedQuestion):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ErrTranslation):
		if translate.StatusCode(err) == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, "The language model is rate limited. Try again shortly."
		}
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

// classify converts an engine error into the *apierr.Error a remote client
// would have produced for the same failure. Cancellation passes through.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	status, msg := Status(err)
	e := apierr.FromStatus(status, nil, "")
	e.Message = msg
	e.Err = err
	return e
}

// Local returns e as a core.Backend whose errors are classified the same
// way pkg/client classifies server responses, for in-process use.
func (e *Engine) Local() core.Backend {
	return local{e}
}

type local struct{ e *Engine }

func (l local) Upload(ctx context.Context, req core.UploadRequest) (*core.TableInfo, error) {
	info, err := l.e.Upload(ctx, req)
	return info, classify(err)
}

func (l local) Translate(ctx context.Context, question string) (*core.Translation, error) {
	tr, err := l.e.Translate(ctx, question)
	return tr, classify(err)
}

func (l local) Execute(ctx context.Context, sql, question string) (*core.QueryResult, error) {
	res, err := l.e.Execute(ctx, sql, question)
	return res, classify(err)
}

func (l local) SaveDashboard(ctx context.Context, in core.DashboardInput) (*core.Dashboard, error) {
	d, err := l.e.SaveDashboard(ctx, in)
	return d, classify(err)
}

func (l local) UpdateDashboard(ctx context.Context, id string, in core.DashboardInput) (*core.Dashboard, error) {
	d, err := l.e.UpdateDashboard(ctx, id, in)
	return d, classify(err)
}

func (l local) DeleteDashboard(ctx context.Context, id string) error {
	return classify(l.e.DeleteDashboard(ctx, id))
}

func (l local) ListDashboards(ctx context.Context) ([]core.Dashboard, error) {
	list, err := l.e.ListDashboards(ctx)
	return list, classify(err)
}

func (l local) GetDashboard(ctx context.Context, id string) (*core.Dashboard, error) {
	d, err := l.e.GetDashboard(ctx, id)
	return d, classify(err)
}
