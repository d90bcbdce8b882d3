package solaredge

import (
	"context"
	"sync"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"
)

func CreateTestTelemetrySource() *TestTelemetrySource {
	return &TestTelemetrySource{
		ProductionWatts: 4200,
		ExportWatts:     3100,
		HasExport:       true,
	}
}

// TestTelemetrySource is an in-memory production source used by tests and
// dry runs.
type TestTelemetrySource struct {
	mu              sync.Mutex
	ProductionWatts float64
	ExportWatts     float64
	HasExport       bool
	Err             error
}

func (s *TestTelemetrySource) Set(production, export float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProductionWatts = production
	s.ExportWatts = export
}

func (s *TestTelemetrySource) GetProduction(ctx context.Context) (*domain.ProductionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return &domain.ProductionSnapshot{
		ProductionWatts: s.ProductionWatts,
		ExportWatts:     s.ExportWatts,
		HasExport:       s.HasExport,
		Source:          "test",
		Timestamp:       time.Now(),
	}, nil
}

var _ port.TelemetrySource = (*TestTelemetrySource)(nil)
