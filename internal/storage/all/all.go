// Package all links every storage backend into a binary with one blank
// import.
package all

import (
	_ "csvload/internal/storage/mssql"
	_ "csvload/internal/storage/postgres"
	_ "csvload/internal/storage/sqlite"
)
