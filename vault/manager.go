package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// LoadResult is the per-secret outcome of a load: the decrypted payload, an
// Absent marker (no usable secret on disk), or the worker's fatal error.
type LoadResult struct {
	Payload []byte
	Absent  bool
	Err     error
}

// Manager runs save and load operations for batches of secrets, one worker
// per secret, and collects per-secret outcomes. A failure in one worker
// never cancels its siblings; aggregate errors are surfaced only after every
// worker has finished.
type Manager struct {
	vc *VaultContext
}

// NewManager creates a manager over the given vault context.
func NewManager(vc *VaultContext) *Manager {
	return &Manager{vc: vc}
}

// SaveSecret saves a single secret, persisting the vault key locally or via
// escrow first. Returns whether the secret was saved; failures are logged.
func (m *Manager) SaveSecret(ctx context.Context, record SecretRecord, storeKeyLocally bool) bool {
	if err := m.saveOne(ctx, record, storeKeyLocally); err != nil {
		m.vc.Log.Error("Failed to save secret", "secret", record.Name(), "err", err)
		return false
	}
	return true
}

// LoadSecret loads a single secret.
func (m *Manager) LoadSecret(ctx context.Context, record SecretRecord) LoadResult {
	return m.loadOne(ctx, record)
}

// SaveAll saves a batch of secrets concurrently, one worker per secret. The
// result map, keyed by record name, reports per-secret success. The joined
// worker errors are returned only after all workers have completed, so one
// failing secret never hides its siblings' outcomes.
func (m *Manager) SaveAll(ctx context.Context, records []SecretRecord, storeKeyLocally bool) (map[string]bool, error) {
	results := make(map[string]bool, len(records))
	errs := make([]error, len(records))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, record := range records {
		wg.Add(1)
		go func(i int, record SecretRecord) {
			defer wg.Done()

			err := m.saveOne(ctx, record, storeKeyLocally)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", record.Name(), err)
			}

			mu.Lock()
			results[record.Name()] = err == nil
			mu.Unlock()
		}(i, record)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// LoadAll loads a batch of secrets concurrently, one worker per secret. Each
// worker resolves its own vault key. The result map, keyed by record name,
// carries the payload, an Absent marker, or the worker's error; the joined
// errors are returned only after all workers have completed.
func (m *Manager) LoadAll(ctx context.Context, records []SecretRecord) (map[string]LoadResult, error) {
	results := make(map[string]LoadResult, len(records))
	errs := make([]error, len(records))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, record := range records {
		wg.Add(1)
		go func(i int, record SecretRecord) {
			defer wg.Done()

			result := m.loadOne(ctx, record)
			if result.Err != nil {
				errs[i] = fmt.Errorf("%s: %w", record.Name(), result.Err)
			}

			mu.Lock()
			results[record.Name()] = result
			mu.Unlock()
		}(i, record)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

func (m *Manager) saveOne(ctx context.Context, record SecretRecord, storeKeyLocally bool) error {
	v, err := NewSecretVault(ctx, m.vc, record)
	if err != nil {
		return err
	}

	if err := v.PersistKey(ctx, storeKeyLocally); err != nil {
		return err
	}

	return v.Save()
}

func (m *Manager) loadOne(ctx context.Context, record SecretRecord) LoadResult {
	v, err := NewSecretVault(ctx, m.vc, record)
	if err != nil {
		return LoadResult{Err: err}
	}

	payload, err := v.Load()
	if err != nil {
		return LoadResult{Err: err}
	}
	if payload == nil {
		return LoadResult{Absent: true}
	}

	return LoadResult{Payload: payload}
}
