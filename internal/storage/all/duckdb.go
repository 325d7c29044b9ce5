//go:build cgo

package all

// DuckDB links its C library and is only available in cgo builds.
import _ "sheetetl/internal/storage/duckdb"
