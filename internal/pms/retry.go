package pms

import (
	"context"
	"time"

	"github.com/clinicsync/platform/pkg/logging"
)

// RetryPolicy bounds how often a failed adapter call is repeated.
// Only retryable failures (KindConnection) are repeated; auth and
// malformed-response failures surface immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy mirrors the config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return base * time.Duration(1<<attempt)
}

// Do runs fn under the policy, sleeping with exponential backoff
// between retryable failures. Context cancellation stops further
// attempts immediately.
func (p RetryPolicy) Do(ctx context.Context, logger *logging.Logger, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == p.attempts()-1 {
			return err
		}
		if logger != nil {
			logger.Warn("pms call retry",
				"op", op,
				"attempt", attempt+1,
				"error", err,
			)
		}
		if err := sleep(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryingAdapter wraps a concrete adapter so every capability call
// runs under one uniform retry policy.
type retryingAdapter struct {
	inner  Adapter
	policy RetryPolicy
	logger *logging.Logger
}

// WithRetry decorates adapter with the policy. The capability flag and
// type pass through untouched.
func WithRetry(adapter Adapter, policy RetryPolicy, logger *logging.Logger) Adapter {
	return &retryingAdapter{inner: adapter, policy: policy, logger: logger}
}

func (r *retryingAdapter) Type() Type                     { return r.inner.Type() }
func (r *retryingAdapter) SupportsBulkAppointments() bool { return r.inner.SupportsBulkAppointments() }

func (r *retryingAdapter) TestConnection(ctx context.Context) error {
	return r.policy.Do(ctx, r.logger, "test_connection", func(ctx context.Context) error {
		return r.inner.TestConnection(ctx)
	})
}

func (r *retryingAdapter) GetPatients(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	var out []Patient
	err := r.policy.Do(ctx, r.logger, "get_patients", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetPatients(ctx, filter)
		return err
	})
	return out, err
}

func (r *retryingAdapter) GetPatientAppointments(ctx context.Context, externalPatientID string) ([]Appointment, error) {
	var out []Appointment
	err := r.policy.Do(ctx, r.logger, "get_patient_appointments", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetPatientAppointments(ctx, externalPatientID)
		return err
	})
	return out, err
}

func (r *retryingAdapter) GetAppointmentTypes(ctx context.Context) ([]RawType, error) {
	var out []RawType
	err := r.policy.Do(ctx, r.logger, "get_appointment_types", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetAppointmentTypes(ctx)
		return err
	})
	return out, err
}

func (r *retryingAdapter) GetPractitioners(ctx context.Context) ([]Practitioner, error) {
	var out []Practitioner
	err := r.policy.Do(ctx, r.logger, "get_practitioners", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetPractitioners(ctx)
		return err
	})
	return out, err
}

func (r *retryingAdapter) GetPatientsWithAppointments(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	if !r.inner.SupportsBulkAppointments() {
		return nil, ErrBulkUnsupported
	}
	var out []Patient
	err := r.policy.Do(ctx, r.logger, "get_patients_with_appointments", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetPatientsWithAppointments(ctx, filter)
		return err
	})
	return out, err
}
