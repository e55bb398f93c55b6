// Package vault is the typed credential accessor over the document
// store. It enforces one credential per provider name and owns the
// projection of recognized provider secrets into the process
// environment.
package vault

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"lmdesk/internal/store"
	"lmdesk/pkg/models"
)

// envVars maps the recognized provider names to the environment
// variable each secret is exposed under. Credentials stored for any
// other name stay in the store but are never projected.
var envVars = map[string]string{
	"OPENAI":    "OPENAI_API_KEY",
	"ANTHROPIC": "ANTHROPIC_API_KEY",
	"GEMINI":    "GEMINI_API_KEY",
	"XAI":       "XAI_API_KEY",
	"MISTRAL":   "MISTRAL_API_KEY",
}

// Credentials holds resolved secrets keyed by recognized provider name.
// It is handed to the provider gateway explicitly so the adapters never
// read ambient environment state.
type Credentials map[string]string

// Vault wraps the document store's credential collection.
type Vault struct {
	store *store.Store
	log   zerolog.Logger
}

// New creates a vault backed by the given store.
func New(st *store.Store, log zerolog.Logger) *Vault {
	return &Vault{store: st, log: log.With().Str("component", "vault").Logger()}
}

// Save upserts the credential for a service and returns the record id.
// Saving twice for the same service keeps a single record whose secret
// reflects the latest write.
func (v *Vault) Save(service, key string) (int64, error) {
	return v.store.UpsertAPIKey(service, key)
}

// Get returns the secret stored for a service, or store.ErrNotFound.
func (v *Vault) Get(service string) (string, error) {
	rec, err := v.store.GetAPIKey(service)
	if err != nil {
		return "", err
	}
	return rec.Key, nil
}

// All returns every stored credential, recognized or not.
func (v *Vault) All() ([]models.APIKey, error) {
	return v.store.APIKeys()
}

// Delete removes the credential for a service and reports how many
// records were removed (0 or 1).
func (v *Vault) Delete(service string) (int64, error) {
	return v.store.DeleteAPIKey(service)
}

// Refresh reads every stored credential and projects the ones with a
// recognized provider name into the process environment under their
// provider-specific variable. It returns the resolved secrets so
// callers can pass them to the gateway directly. Refresh runs at
// service start and again at the top of every completion request, so
// credential edits take effect without a restart. The projection is
// overwrite-only and keyed by fixed names, so concurrent refreshes are
// safe to race.
func (v *Vault) Refresh() (Credentials, error) {
	keys, err := v.store.APIKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	creds := make(Credentials, len(envVars))
	for _, rec := range keys {
		envVar, ok := envVars[rec.Service]
		if !ok {
			// Unrecognized services are stored but never exposed.
			v.log.Debug().Str("service", rec.Service).Msg("skipping unrecognized provider")
			continue
		}
		if err := os.Setenv(envVar, rec.Key); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", envVar, err)
		}
		creds[rec.Service] = rec.Key
	}
	return creds, nil
}

// Status reports, for each recognized provider name, whether a secret
// is currently exposed.
func (c Credentials) Status() map[string]bool {
	status := make(map[string]bool, len(envVars))
	for name := range envVars {
		_, ok := c[name]
		status[name] = ok
	}
	return status
}
