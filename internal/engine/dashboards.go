package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leapstack-labs/leapviz/internal/state"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SaveDashboard persists a new dashboard.
func (e *Engine) SaveDashboard(ctx context.Context, in core.DashboardInput) (*core.Dashboard, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	d, err := e.store.CreateDashboard(ctx, in)
	if err != nil {
		return nil, storeErr(err)
	}
	e.logger.Info("dashboard saved", "id", d.ID, "name", d.Name)
	return d, nil
}

// UpdateDashboard replaces a dashboard's contents.
func (e *Engine) UpdateDashboard(ctx context.Context, id string, in core.DashboardInput) (*core.Dashboard, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	d, err := e.store.UpdateDashboard(ctx, id, in)
	if err != nil {
		return nil, storeErr(err)
	}
	return d, nil
}

// DeleteDashboard removes a dashboard.
func (e *Engine) DeleteDashboard(ctx context.Context, id string) error {
	if err := e.store.DeleteDashboard(ctx, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// ListDashboards returns all dashboards.
func (e *Engine) ListDashboards(ctx context.Context) ([]core.Dashboard, error) {
	list, err := e.store.ListDashboards(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

// GetDashboard returns one dashboard.
func (e *Engine) GetDashboard(ctx context.Context, id string) (*core.Dashboard, error) {
	d, err := e.store.GetDashboard(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return d, nil
}

func checkInput(in core.DashboardInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: invalid dashboard fields: %s", ErrInvalidInput, strings.Join(fields, ", "))
}

func storeErr(err error) error {
	if errors.Is(err, state.ErrDashboardNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
