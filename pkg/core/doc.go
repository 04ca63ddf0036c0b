// Package core defines the shared language of the leapviz system.
//
// This package contains:
//   - Domain entities (TableInfo, QueryResult, Dashboard, ChartConfig)
//   - Service interfaces (Backend, Adapter, DashboardStore)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
