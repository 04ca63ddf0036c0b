package core

import (
	"context"
	"time"
)

// Dashboard is a saved question together with its SQL and chart.
type Dashboard struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Question    string      `json:"question" yaml:"question"`
	SQL         string      `json:"sql" yaml:"sql"`
	ChartConfig ChartConfig `json:"chart_config" yaml:"chart_config"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
}

// DashboardInput is the writable part of a Dashboard.
type DashboardInput struct {
	Name        string      `json:"name" validate:"required,max=120"`
	Question    string      `json:"question" validate:"max=2000"`
	SQL         string      `json:"sql" validate:"required"`
	ChartConfig ChartConfig `json:"chart_config"`
}

// DashboardStore defines persistence for saved dashboards.
type DashboardStore interface {
	Open(path string) error
	Close() error
	Migrate() error

	CreateDashboard(ctx context.Context, in DashboardInput) (*Dashboard, error)
	UpdateDashboard(ctx context.Context, id string, in DashboardInput) (*Dashboard, error)
	GetDashboard(ctx context.Context, id string) (*Dashboard, error)
	ListDashboards(ctx context.Context) ([]Dashboard, error)
	DeleteDashboard(ctx context.Context, id string) error
}
