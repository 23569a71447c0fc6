package shared

// BaseAggregateRoot is a BaseEntity guarded by an optimistic-lock version.
// Repositories save with "WHERE version = read version" and bump it on
// success; a miss surfaces as ErrConcurrentModification.
type BaseAggregateRoot struct {
	BaseEntity
	Version int
}

// NewBaseAggregateRoot starts a new aggregate at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity(), Version: 1}
}

// IncrementVersion bumps the version ahead of a conditional save
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}
