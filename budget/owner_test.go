package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
)

func TestOwner_Constructors(t *testing.T) {
	assert.Equal(t, budget.OwnerIndividual, budget.Individual("u-1").Kind())
	assert.Equal(t, "u-1", budget.Individual("u-1").Ref())
	assert.Equal(t, budget.OwnerCustodial, budget.Custodial("m-1").Kind())
	assert.Equal(t, "", budget.Shared().Ref())
	assert.True(t, budget.Shared().IsShared())
}

func TestOwner_Validate(t *testing.T) {
	assert.NoError(t, budget.Individual("u-1").Validate())
	assert.NoError(t, budget.Shared().Validate())
	assert.ErrorIs(t, budget.Individual("").Validate(), budget.ErrInvalidOwner)
	assert.ErrorIs(t, budget.Custodial("").Validate(), budget.ErrInvalidOwner)
	assert.ErrorIs(t, budget.Owner{}.Validate(), budget.ErrInvalidOwner)
}

func TestParseOwner(t *testing.T) {
	o, err := budget.ParseOwner("CUSTODIAL", "m-7")
	require.NoError(t, err)
	assert.Equal(t, budget.Custodial("m-7"), o)

	o, err = budget.ParseOwner("SHARED", "")
	require.NoError(t, err)
	assert.Equal(t, budget.Shared(), o)

	_, err = budget.ParseOwner("SHARED", "u-1")
	assert.ErrorIs(t, err, budget.ErrInvalidOwner)
	_, err = budget.ParseOwner("FAMILY", "u-1")
	assert.ErrorIs(t, err, budget.ErrInvalidOwner)
	_, err = budget.ParseOwner("INDIVIDUAL", "")
	assert.ErrorIs(t, err, budget.ErrInvalidOwner)
}

func TestChainKey_ComparableAndValidated(t *testing.T) {
	a := budget.ChainKey{Owner: budget.Individual("u-1"), AccountBookID: "book-1"}
	b := budget.ChainKey{Owner: budget.Individual("u-1"), AccountBookID: "book-1"}
	c := budget.ChainKey{Owner: budget.Custodial("u-1"), AccountBookID: "book-1"}

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "same ref under another kind is a different chain")
	assert.Equal(t, "INDIVIDUAL(u-1)/book-1/*", a.String())

	assert.ErrorIs(t, budget.ChainKey{Owner: budget.Shared()}.Validate(), budget.ErrInvalidAccountBook)
}
