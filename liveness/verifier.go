package liveness

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkens/device-dispatch-backend/cryptoutils"
	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/metrics"
)

// Verifier checks device key-pair consistency through challenge
// round-trips and derives current device status from the report history.
type Verifier struct {
	registry interfaces.KeyRegistry
	reports  interfaces.ReportStore
	log      *slog.Logger

	// now is swappable for threshold tests.
	now func() time.Time
}

// New creates a liveness verifier.
func New(registry interfaces.KeyRegistry, reports interfaces.ReportStore, log *slog.Logger) *Verifier {
	return &Verifier{
		registry: registry,
		reports:  reports,
		log:      log,
		now:      time.Now,
	}
}

// Verify resolves a challenge round-trip to a report status code. The
// cipher must decrypt under the device's registered private key to
// exactly the given plaintext. This confirms key-pair consistency, not
// device identity: the transport carrying plaintext and cipher is
// trusted.
//
// A registry backend failure is returned as an error, never resolved to
// a status code: an outage says nothing about the device's key material.
func (v *Verifier) Verify(ctx context.Context, deviceID interfaces.DeviceID, plaintext, cipher []byte) (interfaces.ReportStatus, error) {
	pair, err := v.registry.KeyPair(ctx, deviceID)
	if errors.Is(err, interfaces.ErrDeviceNotFound) || (err == nil && !pair.Complete()) {
		return interfaces.ReportKeyPairMissing, nil
	}
	if err != nil {
		return 0, fmt.Errorf("key pair lookup for %s: %w", deviceID, err)
	}

	decrypted, err := cryptoutils.DecryptWithPrivateKey(pair.Private, cipher)
	if err != nil {
		v.log.Debug("Challenge decryption failed",
			slog.String("device", deviceID.String()), "err", err)
		return interfaces.ReportKeyPairInvalid, nil
	}

	if subtle.ConstantTimeCompare(decrypted, plaintext) != 1 {
		return interfaces.ReportKeyPairInvalid, nil
	}
	return interfaces.ReportNormal, nil
}

// Report runs Verify and appends the resolved report to the device's
// history. The report is returned with its resolved status code. A
// registry or store failure errors out without appending anything.
func (v *Verifier) Report(ctx context.Context, reporterID string, deviceID interfaces.DeviceID, plaintext, cipher []byte, system string) (interfaces.StatusReport, error) {
	code, err := v.Verify(ctx, deviceID, plaintext, cipher)
	if err != nil {
		return interfaces.StatusReport{}, err
	}

	report := interfaces.StatusReport{
		ReporterID: reporterID,
		DeviceID:   deviceID,
		StatusCode: code,
		System:     system,
		CreatedAt:  v.now().UTC(),
	}

	if err := v.reports.Append(ctx, report); err != nil {
		return interfaces.StatusReport{}, fmt.Errorf("append report: %w", err)
	}

	metrics.StatusReportsTotal.WithLabelValues(report.StatusCode.String()).Inc()
	v.log.Info("Status report recorded",
		slog.String("device", deviceID.String()),
		slog.String("reporter", reporterID),
		slog.String("code", report.StatusCode.String()))
	return report, nil
}

// CurrentStatus derives the device's liveness from its most recent
// report. A device with no reports, or whose latest report is older
// than the threshold, is offline regardless of its last reported code.
func (v *Verifier) CurrentStatus(ctx context.Context, deviceID interfaces.DeviceID, offlineThreshold time.Duration) (bool, interfaces.ReportStatus, error) {
	latest, ok, err := v.reports.Latest(ctx, deviceID)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return true, 0, nil
	}

	offline := v.now().Sub(latest.CreatedAt) > offlineThreshold
	return offline, latest.StatusCode, nil
}
