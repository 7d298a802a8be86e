/*
Package cache memoizes model responses.

Keys are the sha256 of the canonical JSON of (provider, model,
temperature bucketed to 0.1, messages), so semantically identical calls
hit regardless of map ordering in the request. Entries expire after a TTL and the cache evicts least recently
used entries past its size bound; a background ticker sweeps expired
entries between lookups.

Invalidation is by provider or by arbitrary predicate, used when a
provider's configuration changes underneath cached responses.
*/
package cache
