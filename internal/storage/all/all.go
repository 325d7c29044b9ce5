// Package all registers every pure-Go storage backend.
package all

import (
	_ "sheetetl/internal/storage/mssql"
	_ "sheetetl/internal/storage/postgres"
	_ "sheetetl/internal/storage/sqlite"
)
