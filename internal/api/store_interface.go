package api

import (
	"github.com/prernalabs/carepoints/internal/services"
)

// Store is the persistence surface the router wires into every service. It
// is the union of the narrow per-service interfaces, so a single memory or
// SQLite store satisfies all of them.
type Store interface {
	services.RegistrationStore
	services.FormStore
	services.CompletionStore
	services.LedgerStore
	services.RedemptionStore
	services.AnalyticsStore
	services.AdminStore

	ListPatients() ([]*services.Patient, error)
}

var _ Store = (*memoryStore)(nil)
