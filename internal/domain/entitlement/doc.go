// Package entitlement models what a customer may use right now.
//
// A CustomerEntitlement is derived from the customer's current subscription
// phase, the plan version pinned by that phase, and any customer grants
// (overrides that replace the plan limit, add-ons that extend it). It is never
// the source of truth and may be cached freely.
//
// The package also carries the tenant kill switches (workspace, project and
// customer) that are consulted before any entitlement lookup.
package entitlement
