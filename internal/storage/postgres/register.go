package postgres

import "csvload/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}
