package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// StoreReportStore persists status reports as an append-only JSON list
// under `reports:{deviceID}` in the coordination store. The newest
// report is always the list tail, so the current status is one tail
// read away.
type StoreReportStore struct {
	store interfaces.CoordinationStore
	log   *slog.Logger
}

// NewReportStore creates a coordination-store-backed report store.
func NewReportStore(store interfaces.CoordinationStore, log *slog.Logger) *StoreReportStore {
	return &StoreReportStore{store: store, log: log}
}

func reportsKey(deviceID interfaces.DeviceID) string {
	return "reports:" + deviceID.String()
}

// Append stores a new report at the tail of the device's list.
func (s *StoreReportStore) Append(ctx context.Context, report interfaces.StatusReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report for %s: %w", report.DeviceID, err)
	}
	if err := s.store.RPush(ctx, reportsKey(report.DeviceID), string(data)); err != nil {
		return fmt.Errorf("persist report for %s: %w", report.DeviceID, err)
	}
	return nil
}

// Latest returns the most recent report. The boolean is false when the
// device has never reported.
func (s *StoreReportStore) Latest(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.StatusReport, bool, error) {
	data, err := s.store.LIndex(ctx, reportsKey(deviceID), -1)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return interfaces.StatusReport{}, false, nil
	}
	if err != nil {
		return interfaces.StatusReport{}, false, fmt.Errorf("load latest report for %s: %w", deviceID, err)
	}

	var report interfaces.StatusReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return interfaces.StatusReport{}, false, fmt.Errorf("unmarshal report for %s: %w", deviceID, err)
	}
	return report, true, nil
}
