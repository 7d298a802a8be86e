/*
Package provider defines the model adapter interface and its registry.

An Adapter wraps one AI provider behind a uniform chat call. The Registry
maps logical roles to provider+model chains from configuration and
validates at startup that every role resolves to a registered adapter
and a priced model.

# Adapters

  - HTTPChatAdapter: OpenAI-style chat completions over HTTP. Base URL,
    API key and call timeout come from the provider config.
  - MockAdapter: Deterministic in-process adapter for tests and local
    runs. Unscripted calls return stable JSON keyed by a prompt digest;
    tests can enqueue scripted responses and errors FIFO.

Adapters report token usage with every response. Pricing tables in the
provider config turn usage into USD for the cost tracker; a model without
a price row costs zero rather than failing the call.

# Role Resolution

	role → primary (provider, model) → fallbacks in declared order

Registry.Validate returns the roles that cannot be resolved instead of
failing, so a deployment without, say, a code-generator key still starts
and serves its other stages. The orchestrator disables the stages whose
roles are unresolved.
*/
package provider
