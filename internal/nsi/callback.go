// ABOUTME: Inbound NSI-CS callback envelope parsing
// ABOUTME: Maps SOAP bodies to Callback values tagged with their kind

package nsi

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEnvelope indicates the payload was not a valid NSI-CS SOAP
// envelope or carried no recognized operation body.
var ErrMalformedEnvelope = errors.New("malformed NSI envelope")

// CallbackKind identifies the operation carried by an inbound callback.
type CallbackKind string

const (
	CallbackReserveConfirmed       CallbackKind = "reserveConfirmed"
	CallbackReserveFailed          CallbackKind = "reserveFailed"
	CallbackReserveCommitConfirmed CallbackKind = "reserveCommitConfirmed"
	CallbackReserveCommitFailed    CallbackKind = "reserveCommitFailed"
	CallbackReserveAbortConfirmed  CallbackKind = "reserveAbortConfirmed"
	CallbackProvisionConfirmed     CallbackKind = "provisionConfirmed"
	CallbackReleaseConfirmed       CallbackKind = "releaseConfirmed"
	CallbackTerminateConfirmed     CallbackKind = "terminateConfirmed"
	CallbackErrorEvent             CallbackKind = "errorEvent"
	CallbackDataPlaneStateChange   CallbackKind = "dataPlaneStateChange"
	CallbackReserveTimeout         CallbackKind = "reserveTimeout"
	CallbackQuerySummaryConfirmed  CallbackKind = "querySummaryConfirmed"
)

// ServiceException carries the NSI error details attached to failure
// callbacks and SOAP faults.
type ServiceException struct {
	NSAID        string `xml:"nsaId"`
	ConnectionID string `xml:"connectionId"`
	ErrorID      string `xml:"errorId"`
	Text         string `xml:"text"`
}

func (e *ServiceException) Error() string {
	return fmt.Sprintf("service exception %s: %s", e.ErrorID, e.Text)
}

// DataPlaneStatus is the payload of a dataPlaneStateChange notification.
type DataPlaneStatus struct {
	Active            bool `xml:"active"`
	Version           int  `xml:"version"`
	VersionConsistent bool `xml:"versionConsistent"`
}

// QueryResult is one reservation entry from a query summary response.
type QueryResult struct {
	ConnectionID        string
	GlobalReservationID string
	Description         string
	RequesterNSA        string
	StartTime           time.Time
	EndTime             time.Time
	ReservationState    string
	LifecycleState      string
	DataPlaneActive     bool
}

// Callback is a parsed inbound message from the provider.
type Callback struct {
	Kind          CallbackKind
	CorrelationID string
	RequesterNSA  string
	ProviderNSA   string

	ConnectionID string

	// Failure callbacks and errorEvent
	Exception *ServiceException

	// errorEvent
	Event                   string
	NotificationID          int64
	TimeStamp               time.Time
	OriginatingConnectionID string
	OriginatingNSA          string

	// dataPlaneStateChange
	DataPlane *DataPlaneStatus

	// reserveTimeout
	TimeoutValue int

	// querySummaryConfirmed
	Results []QueryResult
}

type callbackEnvelope struct {
	XMLName xml.Name       `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Header  callbackHeader `xml:"http://schemas.xmlsoap.org/soap/envelope/ Header"`
	Body    callbackBody   `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type callbackHeader struct {
	NSIHeader nsiHeader `xml:"http://schemas.ogf.org/nsi/2013/12/framework/headers nsiHeader"`
}

type nsiHeader struct {
	ProtocolVersion string `xml:"protocolVersion"`
	CorrelationID   string `xml:"correlationId"`
	RequesterNSA    string `xml:"requesterNSA"`
	ProviderNSA     string `xml:"providerNSA"`
	ReplyTo         string `xml:"replyTo"`
}

type callbackBody struct {
	ReserveConfirmed       *confirmBody        `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveConfirmed"`
	ReserveFailed          *failedBody         `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveFailed"`
	ReserveCommitConfirmed *confirmBody        `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveCommitConfirmed"`
	ReserveCommitFailed    *failedBody         `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveCommitFailed"`
	ReserveAbortConfirmed  *confirmBody        `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveAbortConfirmed"`
	ProvisionConfirmed     *confirmBody        `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types provisionConfirmed"`
	ReleaseConfirmed       *confirmBody        `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types releaseConfirmed"`
	TerminateConfirmed     *confirmBody        `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types terminateConfirmed"`
	ErrorEvent             *errorEventBody     `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types errorEvent"`
	DataPlaneStateChange   *dataPlaneBody      `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types dataPlaneStateChange"`
	ReserveTimeout         *reserveTimeoutBody `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveTimeout"`
	QuerySummaryConfirmed  *querySummaryBody   `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types querySummarySyncConfirmed"`
}

type confirmBody struct {
	ConnectionID string `xml:"connectionId"`
}

type failedBody struct {
	ConnectionID string            `xml:"connectionId"`
	Exception    *ServiceException `xml:"serviceException"`
}

type errorEventBody struct {
	ConnectionID            string            `xml:"connectionId"`
	NotificationID          int64             `xml:"notificationId"`
	TimeStamp               string            `xml:"timeStamp"`
	Event                   string            `xml:"event"`
	OriginatingConnectionID string            `xml:"originatingConnectionId"`
	OriginatingNSA          string            `xml:"originatingNSA"`
	Exception               *ServiceException `xml:"serviceException"`
}

type dataPlaneBody struct {
	ConnectionID   string          `xml:"connectionId"`
	NotificationID int64           `xml:"notificationId"`
	TimeStamp      string          `xml:"timeStamp"`
	DataPlane      DataPlaneStatus `xml:"dataPlaneStatus"`
}

type reserveTimeoutBody struct {
	ConnectionID   string `xml:"connectionId"`
	NotificationID int64  `xml:"notificationId"`
	TimeStamp      string `xml:"timeStamp"`
	TimeoutValue   int    `xml:"timeoutValue"`
}

type querySummaryBody struct {
	Reservations []queryReservation `xml:"reservation"`
}

type queryReservation struct {
	ConnectionID        string `xml:"connectionId"`
	GlobalReservationID string `xml:"globalReservationId"`
	Description         string `xml:"description"`
	RequesterNSA        string `xml:"requesterNSA"`
	Criteria            struct {
		Schedule struct {
			StartTime string `xml:"startTime"`
			EndTime   string `xml:"endTime"`
		} `xml:"schedule"`
	} `xml:"criteria"`
	ConnectionStates struct {
		ReservationState string `xml:"reservationState"`
		LifecycleState   string `xml:"lifecycleState"`
		DataPlaneStatus  struct {
			Active bool `xml:"active"`
		} `xml:"dataPlaneStatus"`
	} `xml:"connectionStates"`
}

// DecodeCallback parses an inbound SOAP callback envelope.
func DecodeCallback(data []byte) (*Callback, error) {
	var env callbackEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	cb := &Callback{
		CorrelationID: env.Header.NSIHeader.CorrelationID,
		RequesterNSA:  env.Header.NSIHeader.RequesterNSA,
		ProviderNSA:   env.Header.NSIHeader.ProviderNSA,
	}
	if cb.CorrelationID == "" {
		return nil, fmt.Errorf("%w: missing correlationId", ErrMalformedEnvelope)
	}

	body := env.Body
	switch {
	case body.ReserveConfirmed != nil:
		cb.Kind = CallbackReserveConfirmed
		cb.ConnectionID = body.ReserveConfirmed.ConnectionID
	case body.ReserveFailed != nil:
		cb.Kind = CallbackReserveFailed
		cb.ConnectionID = body.ReserveFailed.ConnectionID
		cb.Exception = body.ReserveFailed.Exception
	case body.ReserveCommitConfirmed != nil:
		cb.Kind = CallbackReserveCommitConfirmed
		cb.ConnectionID = body.ReserveCommitConfirmed.ConnectionID
	case body.ReserveCommitFailed != nil:
		cb.Kind = CallbackReserveCommitFailed
		cb.ConnectionID = body.ReserveCommitFailed.ConnectionID
		cb.Exception = body.ReserveCommitFailed.Exception
	case body.ReserveAbortConfirmed != nil:
		cb.Kind = CallbackReserveAbortConfirmed
		cb.ConnectionID = body.ReserveAbortConfirmed.ConnectionID
	case body.ProvisionConfirmed != nil:
		cb.Kind = CallbackProvisionConfirmed
		cb.ConnectionID = body.ProvisionConfirmed.ConnectionID
	case body.ReleaseConfirmed != nil:
		cb.Kind = CallbackReleaseConfirmed
		cb.ConnectionID = body.ReleaseConfirmed.ConnectionID
	case body.TerminateConfirmed != nil:
		cb.Kind = CallbackTerminateConfirmed
		cb.ConnectionID = body.TerminateConfirmed.ConnectionID
	case body.ErrorEvent != nil:
		cb.Kind = CallbackErrorEvent
		cb.ConnectionID = body.ErrorEvent.ConnectionID
		cb.Event = body.ErrorEvent.Event
		cb.NotificationID = body.ErrorEvent.NotificationID
		cb.TimeStamp = parseTimestamp(body.ErrorEvent.TimeStamp)
		cb.OriginatingConnectionID = body.ErrorEvent.OriginatingConnectionID
		cb.OriginatingNSA = body.ErrorEvent.OriginatingNSA
		cb.Exception = body.ErrorEvent.Exception
	case body.DataPlaneStateChange != nil:
		cb.Kind = CallbackDataPlaneStateChange
		cb.ConnectionID = body.DataPlaneStateChange.ConnectionID
		cb.NotificationID = body.DataPlaneStateChange.NotificationID
		cb.TimeStamp = parseTimestamp(body.DataPlaneStateChange.TimeStamp)
		dp := body.DataPlaneStateChange.DataPlane
		cb.DataPlane = &dp
	case body.ReserveTimeout != nil:
		cb.Kind = CallbackReserveTimeout
		cb.ConnectionID = body.ReserveTimeout.ConnectionID
		cb.NotificationID = body.ReserveTimeout.NotificationID
		cb.TimeStamp = parseTimestamp(body.ReserveTimeout.TimeStamp)
		cb.TimeoutValue = body.ReserveTimeout.TimeoutValue
	case body.QuerySummaryConfirmed != nil:
		cb.Kind = CallbackQuerySummaryConfirmed
		cb.Results = convertQueryResults(body.QuerySummaryConfirmed.Reservations)
	default:
		return nil, fmt.Errorf("%w: no recognized operation body", ErrMalformedEnvelope)
	}

	return cb, nil
}

func convertQueryResults(reservations []queryReservation) []QueryResult {
	results := make([]QueryResult, 0, len(reservations))
	for _, r := range reservations {
		results = append(results, QueryResult{
			ConnectionID:        r.ConnectionID,
			GlobalReservationID: r.GlobalReservationID,
			Description:         r.Description,
			RequesterNSA:        r.RequesterNSA,
			StartTime:           parseTimestamp(r.Criteria.Schedule.StartTime),
			EndTime:             parseTimestamp(r.Criteria.Schedule.EndTime),
			ReservationState:    r.ConnectionStates.ReservationState,
			LifecycleState:      r.ConnectionStates.LifecycleState,
			DataPlaneActive:     r.ConnectionStates.DataPlaneStatus.Active,
		})
	}
	return results
}

// parseTimestamp is lenient: providers emit RFC 3339 with varying
// sub-second precision, and a bad timestamp should not reject an
// otherwise valid message.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
