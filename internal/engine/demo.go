package engine

import _ "embed"

// demoTable is the table name of the bundled demo dataset.
const demoTable = "demo_sales"

// demoCSV is monthly sales by region and product for 2025.
//
//go:embed demo/sales.csv
var demoCSV string
