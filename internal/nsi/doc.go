// Package nsi implements the NSI-CS v2 SOAP message codec and the HTTP
// emitter used to deliver requests to a provider NSA.
//
// # Overview
//
// NSI-CS messages are SOAP 1.1 envelopes carrying an nsiHeader framework
// header and one operation body. Requests flow from this agent to the
// provider's SOAP endpoint; confirmations and notifications flow back
// asynchronously as callbacks POSTed to our replyTo URL.
//
// The package separates three concerns:
//
//   - Codec builds outbound envelopes (reserve, reserveCommit, reserveAbort,
//     provision, release, terminate, querySummarySync, reserveTimeoutACK)
//     and the GenericAcknowledgement we return for inbound callbacks.
//   - DecodeCallback parses inbound callback envelopes into a Callback value
//     tagged with its kind.
//   - HTTPEmitter POSTs an envelope and parses the synchronous acknowledgement
//     (or SOAP Fault) from the HTTP response.
//
// Correlation identifiers are urn:uuid URNs generated per request.
package nsi
