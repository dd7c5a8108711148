package sqlite

import "csvload/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("sqlite", New)
}
