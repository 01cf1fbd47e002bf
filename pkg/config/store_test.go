package config_test

import (
	"testing"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChain() *models.Chain {
	return &models.Chain{
		ID:   "purchase-chain",
		Name: "Purchase Approval",
		Sections: []models.Section{
			{
				Order:       0,
				Kind:        models.SectionKindForm,
				Name:        "Purchase Details",
				TemplateRef: "purchase-form",
				InitiatorRoles: []models.RoleRef{
					{Role: "buyer", Scope: models.RoleScopeBusinessUnit},
				},
			},
			{
				Order: 1,
				Kind:  models.SectionKindApproval,
				Name:  "Manager Review",
				Steps: []models.Step{
					{StepNumber: 1, ApproverRole: models.RoleRef{Role: "manager", Scope: models.RoleScopeBusinessUnit}},
					{StepNumber: 2, ApproverRole: models.RoleRef{Role: "finance", Scope: models.RoleScopeOrg}},
				},
			},
		},
	}
}

func TestValidateChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*models.Chain)
		wantErr string
	}{
		{
			name:   "valid chain passes",
			mutate: func(*models.Chain) {},
		},
		{
			name:    "missing id",
			mutate:  func(c *models.Chain) { c.ID = "" },
			wantErr: "chain id is required",
		},
		{
			name:    "no sections",
			mutate:  func(c *models.Chain) { c.Sections = nil },
			wantErr: "no sections",
		},
		{
			name:    "non-contiguous section orders",
			mutate:  func(c *models.Chain) { c.Sections[1].Order = 3 },
			wantErr: "orders must be contiguous",
		},
		{
			name:    "approval section without steps",
			mutate:  func(c *models.Chain) { c.Sections[1].Steps = nil },
			wantErr: "has no steps",
		},
		{
			name:    "step numbering gap",
			mutate:  func(c *models.Chain) { c.Sections[1].Steps[1].StepNumber = 5 },
			wantErr: "steps must be contiguous",
		},
		{
			name:    "step without approver role",
			mutate:  func(c *models.Chain) { c.Sections[1].Steps[0].ApproverRole.Role = "" },
			wantErr: "no approver role",
		},
		{
			name:    "form section with steps",
			mutate:  func(c *models.Chain) { c.Sections[0].Steps = []models.Step{{StepNumber: 1}} },
			wantErr: "must not declare approval steps",
		},
		{
			name:    "form section without template",
			mutate:  func(c *models.Chain) { c.Sections[0].TemplateRef = "" },
			wantErr: "no template reference",
		},
		{
			name:    "unknown section kind",
			mutate:  func(c *models.Chain) { c.Sections[0].Kind = "poll" },
			wantErr: "unknown kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain := validChain()
			tt.mutate(chain)

			err := config.ValidateChain(chain)
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.True(t, config.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMemoryStore_Versioning(t *testing.T) {
	t.Parallel()

	store := config.NewMemoryStore()

	v1, err := store.PutChain(t.Context(), validChain())
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	edited := validChain()
	edited.Sections[1].Steps = edited.Sections[1].Steps[:1]

	v2, err := store.PutChain(t.Context(), edited)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	// Latest reflects the edit, the pinned version does not.
	latest, err := store.Chain(t.Context(), "purchase-chain")
	require.NoError(t, err)
	assert.Len(t, latest.SectionAt(1).Steps, 1)

	pinned, err := store.ChainVersion(t.Context(), "purchase-chain", 1)
	require.NoError(t, err)
	assert.Len(t, pinned.SectionAt(1).Steps, 2)
}

func TestMemoryStore_NotFound(t *testing.T) {
	t.Parallel()

	store := config.NewMemoryStore()

	_, err := store.Chain(t.Context(), "missing")
	assert.ErrorIs(t, err, config.ErrChainNotFound)

	_, err = store.ChainVersion(t.Context(), "missing", 1)
	assert.ErrorIs(t, err, config.ErrChainNotFound)

	_, putErr := store.PutChain(t.Context(), validChain())
	require.NoError(t, putErr)

	_, err = store.Section(t.Context(), "purchase-chain", 2)
	assert.ErrorIs(t, err, config.ErrSectionNotFound)

	_, err = store.Section(t.Context(), "purchase-chain", -1)
	assert.ErrorIs(t, err, config.ErrSectionNotFound)

	section, err := store.Section(t.Context(), "purchase-chain", 1)
	require.NoError(t, err)
	assert.Equal(t, "Manager Review", section.Name)
}

func TestMemoryStore_StoredChainIsImmutable(t *testing.T) {
	t.Parallel()

	store := config.NewMemoryStore()

	_, err := store.PutChain(t.Context(), validChain())
	require.NoError(t, err)

	first, err := store.Chain(t.Context(), "purchase-chain")
	require.NoError(t, err)

	first.Sections[1].Steps[0].ApproverRole.Role = "tampered"

	second, err := store.Chain(t.Context(), "purchase-chain")
	require.NoError(t, err)
	assert.Equal(t, "manager", second.Sections[1].Steps[0].ApproverRole.Role)
}
