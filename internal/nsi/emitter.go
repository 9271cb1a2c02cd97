// ABOUTME: HTTP delivery of outbound SOAP envelopes to the provider NSA
// ABOUTME: Parses synchronous acknowledgements and SOAP faults from responses

package nsi

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseBytes bounds how much of a provider response we will read.
const maxResponseBytes = 4 << 20

// SyncAck is the synchronous acknowledgement returned by the provider in
// the HTTP response to a request. Reserve acks carry the provider-assigned
// connection id; querySummarySync acks carry the query results.
type SyncAck struct {
	CorrelationID string
	ConnectionID  string
	Results       []QueryResult
}

// FaultError is a SOAP Fault returned in place of an acknowledgement.
type FaultError struct {
	Code      string
	Message   string
	Exception *ServiceException
}

func (e *FaultError) Error() string {
	if e.Exception != nil {
		return fmt.Sprintf("provider fault: %s (errorId %s)", e.Message, e.Exception.ErrorID)
	}
	return fmt.Sprintf("provider fault: %s", e.Message)
}

// HTTPEmitter posts SOAP envelopes to a provider endpoint.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPEmitter creates an emitter for the given provider SOAP endpoint.
func NewHTTPEmitter(endpoint string) *HTTPEmitter {
	return &HTTPEmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default().With("component", "emitter"),
	}
}

// Post delivers one envelope and returns the parsed synchronous
// acknowledgement. A SOAP Fault response is returned as a *FaultError.
func (e *HTTPEmitter) Post(ctx context.Context, envelope []byte) (*SyncAck, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}

	ack, err := decodeSyncAck(body)
	if err != nil {
		// A fault is a protocol-level answer, not a transport failure.
		// Anything else on a non-2xx status is reported as HTTP error.
		var fe *FaultError
		if errors.As(err, &fe) {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		return nil, err
	}

	e.logger.Debug("provider acknowledged",
		"correlation_id", ack.CorrelationID,
		"status", resp.StatusCode)
	return ack, nil
}

type syncAckEnvelope struct {
	XMLName xml.Name       `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Header  callbackHeader `xml:"http://schemas.xmlsoap.org/soap/envelope/ Header"`
	Body    syncAckBody    `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type syncAckBody struct {
	ReserveResponse *confirmBody      `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types reserveResponse"`
	Acknowledgment  *struct{}         `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types acknowledgment"`
	QueryConfirmed  *querySummaryBody `xml:"http://schemas.ogf.org/nsi/2013/12/connection/types querySummarySyncConfirmed"`
	Fault           *soapFault        `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault"`
}

// soapFault is namespace-lenient on purpose: faultcode and faultstring are
// unqualified in SOAP 1.1, and the serviceException detail is in the
// connection types namespace.
type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Exception *ServiceException `xml:"serviceException"`
	} `xml:"detail"`
}

func decodeSyncAck(data []byte) (*SyncAck, error) {
	var env syncAckEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	body := env.Body
	switch {
	case body.Fault != nil:
		return nil, &FaultError{
			Code:      body.Fault.Code,
			Message:   body.Fault.String,
			Exception: body.Fault.Detail.Exception,
		}
	case body.ReserveResponse != nil:
		return &SyncAck{
			CorrelationID: env.Header.NSIHeader.CorrelationID,
			ConnectionID:  body.ReserveResponse.ConnectionID,
		}, nil
	case body.QueryConfirmed != nil:
		return &SyncAck{
			CorrelationID: env.Header.NSIHeader.CorrelationID,
			Results:       convertQueryResults(body.QueryConfirmed.Reservations),
		}, nil
	case body.Acknowledgment != nil:
		return &SyncAck{CorrelationID: env.Header.NSIHeader.CorrelationID}, nil
	default:
		return nil, fmt.Errorf("%w: no acknowledgement body", ErrMalformedEnvelope)
	}
}
