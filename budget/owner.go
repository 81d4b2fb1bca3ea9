package budget

import "fmt"

// =============================================================================
// OWNER - Closed variant: INDIVIDUAL(ref) | CUSTODIAL(ref) | SHARED
// =============================================================================

type OwnerKind string

const (
	OwnerIndividual OwnerKind = "INDIVIDUAL"
	OwnerCustodial  OwnerKind = "CUSTODIAL"
	OwnerShared     OwnerKind = "SHARED"
)

func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerIndividual, OwnerCustodial, OwnerShared:
		return true
	}
	return false
}

// Owner is who a budget chain belongs to. The fields are unexported so an
// owner can only be built through Individual, Custodial, Shared or ParseOwner,
// which rules out a shared owner with a ref or a personal owner without one.
type Owner struct {
	kind OwnerKind
	ref  string
}

// Individual is an account holder with their own login.
func Individual(userID string) Owner { return Owner{kind: OwnerIndividual, ref: userID} }

// Custodial is a dependent family member tracked inside a family book.
func Custodial(memberID string) Owner { return Owner{kind: OwnerCustodial, ref: memberID} }

// Shared is the family-wide pseudo-owner.
func Shared() Owner { return Owner{kind: OwnerShared} }

// ParseOwner rebuilds an owner from its stored kind and ref.
func ParseOwner(kind, ref string) (Owner, error) {
	var o Owner
	switch OwnerKind(kind) {
	case OwnerIndividual:
		o = Individual(ref)
	case OwnerCustodial:
		o = Custodial(ref)
	case OwnerShared:
		if ref != "" {
			return Owner{}, fmt.Errorf("%w: shared owner cannot carry ref %q", ErrInvalidOwner, ref)
		}
		o = Shared()
	default:
		return Owner{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidOwner, kind)
	}
	return o, o.Validate()
}

func (o Owner) Kind() OwnerKind { return o.kind }

// Ref is the user or member id. Empty for SHARED.
func (o Owner) Ref() string { return o.ref }

func (o Owner) IsShared() bool { return o.kind == OwnerShared }

func (o Owner) Validate() error {
	switch o.kind {
	case OwnerIndividual, OwnerCustodial:
		if o.ref == "" {
			return fmt.Errorf("%w: %s owner requires a ref", ErrInvalidOwner, o.kind)
		}
		return nil
	case OwnerShared:
		return nil
	default:
		return fmt.Errorf("%w: unset owner kind", ErrInvalidOwner)
	}
}

func (o Owner) String() string {
	if o.kind == OwnerShared {
		return string(OwnerShared)
	}
	return string(o.kind) + "(" + o.ref + ")"
}

// Member is an owner as listed by the owner directory.
type Member struct {
	Owner         Owner
	DisplayName   string
	AccountBookID string
}

// =============================================================================
// CHAIN KEY - Identity of a sequence of consecutive budgets
// =============================================================================

// ChainKey identifies one budget chain. An empty CategoryID means the whole
// account book.
type ChainKey struct {
	Owner         Owner
	AccountBookID string
	CategoryID    string
}

func (k ChainKey) Validate() error {
	if err := k.Owner.Validate(); err != nil {
		return err
	}
	if k.AccountBookID == "" {
		return ErrInvalidAccountBook
	}
	return nil
}

func (k ChainKey) String() string {
	category := k.CategoryID
	if category == "" {
		category = "*"
	}
	return k.Owner.String() + "/" + k.AccountBookID + "/" + category
}
