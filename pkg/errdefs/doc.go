/*
Package errdefs defines the error taxonomy shared across the system.

Every error that crosses a package boundary carries a Kind (Validation,
Unauthorized, Forbidden, NotFound, MissingInputArtifact,
ArtifactWriteError, ProviderTransient, ProviderPermanent,
ProviderUnavailable, Timeout, CostDenied, Cancelled, Internal) and a
retryable flag derived from it. The orchestrator uses the flag to
decide whether an attempt burns the retry budget; the API maps kinds to
HTTP status codes.

Construct with New or Wrap, inspect with KindOf and IsRetryable. Wrapped
errors remain compatible with errors.Is and errors.As.
*/
package errdefs
