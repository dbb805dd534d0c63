package domain

import (
	"testing"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessTier(t *testing.T) {
	tier, err := ParseAccessTier(" Paid ")
	require.NoError(t, err)
	assert.Equal(t, TierPaid, tier)

	_, err = ParseAccessTier("premium")
	assert.ErrorIs(t, err, sharedDomain.ErrValidation)
}

func TestDescriptor_Validate(t *testing.T) {
	price, err := sharedDomain.NewMoney(500, "CHF")
	require.NoError(t, err)

	valid := Descriptor{ID: "c1", Kind: KindArticle, Tier: TierPaid, Price: price}
	assert.NoError(t, valid.Validate())
	assert.True(t, valid.IsPaid())

	tests := map[string]Descriptor{
		"missing id":         {Kind: KindArticle, Tier: TierOpen},
		"unknown kind":       {ID: "c1", Kind: "podcast", Tier: TierOpen},
		"unknown tier":       {ID: "c1", Kind: KindCourse, Tier: "vip"},
		"paid without price": {ID: "c1", Kind: KindCourse, Tier: TierPaid},
	}
	for name, d := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, d.Validate(), sharedDomain.ErrValidation)
		})
	}

	open := Descriptor{ID: "c2", Kind: KindCourse, Tier: TierOpen}
	assert.NoError(t, open.Validate())
}

func TestErrContentNotFound_IsNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrContentNotFound, sharedDomain.ErrNotFound)
	assert.True(t, sharedDomain.IsValidation(ErrContentNotFound))
}
