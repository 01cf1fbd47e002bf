package config

import (
	"context"
	"sync"
	"time"

	"github.com/approvia/approvia/pkg/models"
)

// MemoryStore is an in-memory versioned chain store. Admitted chains are
// deep-copied on the way in and out, so callers can never mutate a stored
// version.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*models.Chain // versions in ascending order
}

// NewMemoryStore creates an empty in-memory chain store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string][]*models.Chain),
	}
}

// PutChain validates the chain and stores it as the next version.
func (s *MemoryStore) PutChain(_ context.Context, chain *models.Chain) (*models.Chain, error) {
	if err := ValidateChain(chain); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneChain(chain)
	stored.Version = len(s.chains[chain.ID]) + 1

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.chains[chain.ID] = append(s.chains[chain.ID], stored)

	return cloneChain(stored), nil
}

// Chain returns the latest version of the chain.
func (s *MemoryStore) Chain(_ context.Context, chainID string) (*models.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.chains[chainID]
	if len(versions) == 0 {
		return nil, ErrChainNotFound
	}

	return cloneChain(versions[len(versions)-1]), nil
}

// ChainVersion returns a pinned version of the chain.
func (s *MemoryStore) ChainVersion(_ context.Context, chainID string, version int) (*models.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.chains[chainID]
	if version < 1 || version > len(versions) {
		return nil, ErrChainNotFound
	}

	return cloneChain(versions[version-1]), nil
}

// Section returns the section at the given order of the latest chain version.
func (s *MemoryStore) Section(ctx context.Context, chainID string, order int) (*models.Section, error) {
	chain, err := s.Chain(ctx, chainID)
	if err != nil {
		return nil, err
	}

	section := chain.SectionAt(order)
	if section == nil {
		return nil, ErrSectionNotFound
	}

	return section, nil
}

func cloneChain(chain *models.Chain) *models.Chain {
	out := *chain
	out.Sections = make([]models.Section, len(chain.Sections))

	for i, section := range chain.Sections {
		copied := section

		if section.Steps != nil {
			copied.Steps = make([]models.Step, len(section.Steps))
			copy(copied.Steps, section.Steps)
		}

		if section.InitiatorRoles != nil {
			copied.InitiatorRoles = make([]models.RoleRef, len(section.InitiatorRoles))
			copy(copied.InitiatorRoles, section.InitiatorRoles)
		}

		out.Sections[i] = copied
	}

	return &out
}
