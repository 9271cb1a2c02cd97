// Package dedupe provides a TTL cache for suppressing redelivered provider
// notifications.
//
// NSI-CS notifications (errorEvent, dataPlaneStateChange, reserveTimeout)
// carry a per-connection notificationId and may be redelivered when our
// acknowledgement is lost. The cache remembers processed
// (connectionId, notificationId) pairs so a redelivery is acknowledged
// without applying its transition twice.
package dedupe
