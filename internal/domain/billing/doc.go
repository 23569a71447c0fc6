// Package billing provides the plan and metering domain models behind customer entitlements.
//
// This package implements the billing bounded context, which is responsible for:
//   - Describing plan versions and the per-feature limits they grant
//   - Deriving billing cycle windows from a phase anchor and a billing interval
//   - Recording usage events in an append-only log used for reconciliation
//
// Key Aggregates:
//   - PlanVersion: An immutable revision of a plan with its feature limits
//   - UsageRecord: Immutable record of a single usage increment
//
// Value Objects:
//   - Cycle: A half-open billing window with grace-period validity
//   - BillingInterval: Cadence at which cycles roll over
//   - LimitType: How a plan feature is limited (unit, boolean, unlimited)
//
// The billing domain integrates with:
//   - Subscription domain: phases pin a plan version and anchor the cycle
//   - Entitlement domain: resolved entitlements embed the cycle and limit
package billing
