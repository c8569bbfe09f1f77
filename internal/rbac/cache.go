package rbac

import "context"

// DecisionKey identifies one cached check.
type DecisionKey struct {
	OrganizationID string
	UserID         string
	Resource       Resource
	Action         Action
}

func (k DecisionKey) String() string {
	return k.OrganizationID + "|" + k.UserID + "|" + string(k.Resource) + "|" + string(k.Action)
}

// DecisionCache stores check results. Every write inside an organization calls
// InvalidateOrganization, which moves the organization's version forward.
//
// Check reads Version before it walks the assignments and passes the same
// value to Get and Set. Set must never make a result visible to readers of a
// later version, so an answer computed while a write was committing is dropped.
type DecisionCache interface {
	Version(ctx context.Context, organizationID string) (uint64, error)
	Get(ctx context.Context, key DecisionKey, version uint64) (CheckResult, bool, error)
	Set(ctx context.Context, key DecisionKey, version uint64, res CheckResult) error
	InvalidateOrganization(ctx context.Context, organizationID string) error
}
