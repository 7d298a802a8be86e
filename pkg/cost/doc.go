/*
Package cost tracks spend and enforces monetary limits.

The Tracker aggregates model call costs per day across six dimensions
(tenant, user, project, build, provider, model) in memory, pruned to a
retention window. The Controller reads those aggregates to admit or deny
work before tokens are spent.

# Limits

All thresholds are USD and zero disables a threshold:

  - DailyLimit, MonthlyLimit: global spend caps
  - PerBuildLimit: spend cap for a single build
  - PerUserDaily, PerTenantDaily: per-principal daily caps
  - EmergencyStopDaily: crossing it engages the emergency stop

A denied admission surfaces as a CostDenied error, which the API maps to
HTTP 402. While the emergency stop is engaged every admission is denied;
an operator resumes explicitly through the API. The stop and resume log
the acting operator and reason for the audit trail.

The controller accepts an optional alert callback fired when a threshold
crosses, so deployments can page without polling the API.
*/
package cost
