package core

import (
	"context"
	"io"
)

// UploadRequest carries a dataset upload. When UseDemo is set the backend
// loads its bundled demo dataset and Content is ignored.
type UploadRequest struct {
	FileName string
	Content  io.Reader
	UseDemo  bool
}

// Backend is the contract the query-orchestration core expects from the
// service that stores datasets, translates questions and executes SQL.
type Backend interface {
	Upload(ctx context.Context, req UploadRequest) (*TableInfo, error)
	Translate(ctx context.Context, question string) (*Translation, error)
	Execute(ctx context.Context, sql, question string) (*QueryResult, error)

	SaveDashboard(ctx context.Context, in DashboardInput) (*Dashboard, error)
	UpdateDashboard(ctx context.Context, id string, in DashboardInput) (*Dashboard, error)
	DeleteDashboard(ctx context.Context, id string) error
	ListDashboards(ctx context.Context) ([]Dashboard, error)
	GetDashboard(ctx context.Context, id string) (*Dashboard, error)
}
