/*
Package config loads and validates the runtime configuration.

Defaults cover a complete single-binary setup with the mock provider
wired to every role, so a bare start works with no file at all. A YAML
file overlays the defaults, then APEX_* environment variables overlay
the file. Validate catches cross-field mistakes (empty backoff schedule,
roles without models, non-admin tokens missing a tenant) before anything
starts.
*/
package config
