package mssql

import "csvload/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("mssql", New)
}
