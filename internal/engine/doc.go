// Package engine is the protocol engine: the single component that moves
// connection records.
//
// # Overview
//
// The engine serializes work per connection with a keyed mutex and applies
// every change through the state.Apply transition function, persisting the
// record after each applied transition. It sits between three inputs:
//
//   - Operator intents (Reserve, ReserveCommit, ReserveAbort, Provision,
//     Release, Terminate, QuerySummary) arriving from the HTTP API.
//   - Provider callbacks arriving at the replyTo endpoint, dispatched
//     through OnProviderMessage.
//   - Timeout expiries delivered by the timeout manager; the engine
//     implements timeout.Handler.
//
// Outbound requests register a pending entry in the correlation tracker
// before emission; inbound replies resolve exactly one entry, so the
// reply/timeout race has a single winner and the loser is a no-op.
//
// Inconsistencies that do not corrupt state (invalid transitions,
// unsolicited or duplicate messages, faults, stale status) are recorded as
// anomalies rather than failing the message exchange: the provider always
// gets its acknowledgement.
package engine
