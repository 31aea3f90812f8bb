// Package federation implements the provider-to-provider RPC protocol: the
// client and remote connector on the requesting side, the facade on the
// providing side, and the wire messages both share. Requests travel as
// kind-tagged envelopes over a pluggable request/reply transport; failures
// cross the boundary as transport-neutral error conditions that each side
// translates to and from its own error taxonomy.
package federation
