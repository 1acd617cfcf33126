// Package factory constructs PMS adapters from a type enum and
// decrypted credentials, wrapping every adapter in the uniform retry
// policy.
package factory

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clinicsync/platform/internal/pms"
	"github.com/clinicsync/platform/internal/pms/cliniko"
	"github.com/clinicsync/platform/internal/pms/halaxy"
	"github.com/clinicsync/platform/internal/pms/nookal"
	"github.com/clinicsync/platform/pkg/logging"
)

// Factory builds adapters with shared transport settings.
type Factory struct {
	Timeout    time.Duration
	Retry      pms.RetryPolicy
	Logger     *logging.Logger
	HTTPClient *http.Client
}

// New builds the adapter for pmsType. The API key is validated locally
// before any network call; a rejected key is a credential-format
// failure the caller can surface to the user immediately.
func (f *Factory) New(pmsType pms.Type, creds pms.Credentials) (pms.Adapter, error) {
	if !pmsType.Valid() {
		return nil, fmt.Errorf("factory: unsupported pms type %q", pmsType)
	}
	if err := validateKey(pmsType, creds.APIKey); err != nil {
		return nil, err
	}

	var (
		adapter pms.Adapter
		err     error
	)
	switch pmsType {
	case pms.TypeCliniko:
		adapter, err = cliniko.New(cliniko.Config{
			BaseURL:    creds.BaseURL,
			APIKey:     creds.APIKey,
			Timeout:    f.Timeout,
			HTTPClient: f.HTTPClient,
		})
	case pms.TypeNookal:
		adapter, err = nookal.New(nookal.Config{
			BaseURL:    creds.BaseURL,
			APIKey:     creds.APIKey,
			ClinicID:   creds.ClinicID,
			Timeout:    f.Timeout,
			HTTPClient: f.HTTPClient,
		})
	case pms.TypeHalaxy:
		adapter, err = halaxy.New(halaxy.Config{
			BaseURL:    creds.BaseURL,
			Token:      creds.APIKey,
			Timeout:    f.Timeout,
			HTTPClient: f.HTTPClient,
		})
	}
	if err != nil {
		return nil, err
	}

	return pms.WithRetry(adapter, f.Retry, f.Logger), nil
}

func validateKey(pmsType pms.Type, apiKey string) error {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return pms.NewError(pmsType, "new", pms.KindCredentialFormat, 0,
			fmt.Errorf("api key is empty"))
	}
	if strings.ContainsAny(trimmed, " \t\n") {
		return pms.NewError(pmsType, "new", pms.KindCredentialFormat, 0,
			fmt.Errorf("api key contains whitespace"))
	}
	return nil
}
