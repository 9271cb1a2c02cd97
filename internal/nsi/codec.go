// ABOUTME: Outbound NSI-CS SOAP envelope construction
// ABOUTME: Builds reserve, generic operation, query, and acknowledgement messages

package nsi

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// XML namespaces used by NSI-CS v2 messages.
const (
	nsSOAPEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsHeaders = "http://schemas.ogf.org/nsi/2013/12/framework/headers"
	nsTypes   = "http://schemas.ogf.org/nsi/2013/12/connection/types"
	nsP2P     = "http://schemas.ogf.org/nsi/2013/12/services/point2point"
)

// Protocol version identifiers carried in the nsiHeader.
const (
	ProtocolVersionProvider  = "application/vnd.ogf.nsi.cs.v2.provider+soap"
	ProtocolVersionRequester = "application/vnd.ogf.nsi.cs.v2.requester+soap"
)

// ServiceTypeP2P is the point-to-point EVTS service definition URI.
const ServiceTypeP2P = "http://services.ogf.org/nsi/2013/12/descriptions/EVTS.A-GOLE"

const urnUUIDPrefix = "urn:uuid:"

// NewCorrelationID returns a fresh correlation identifier in urn:uuid form.
func NewCorrelationID() string {
	return urnUUIDPrefix + uuid.New().String()
}

// CorrelationURN returns the urn:uuid form of a correlation id.
func CorrelationURN(id string) string {
	if strings.HasPrefix(id, urnUUIDPrefix) {
		return id
	}
	return urnUUIDPrefix + id
}

// TrimCorrelationURN strips the urn:uuid prefix from an inbound
// correlation id, leaving tracker keys in bare uuid form.
func TrimCorrelationURN(id string) string {
	return strings.TrimPrefix(id, urnUUIDPrefix)
}

// Codec builds outbound SOAP envelopes for one requester/provider pair.
type Codec struct {
	RequesterNSA string
	ProviderNSA  string
	ReplyTo      string
}

// ReserveRequest carries the reservation criteria for an initial reserve.
type ReserveRequest struct {
	GlobalReservationID string
	Description         string
	StartTime           time.Time
	EndTime             time.Time
	SourceSTP           string
	DestSTP             string
	Bandwidth           int64
}

// Encoding uses literal prefixed element names rather than encoding/xml
// namespace handling, which cannot emit conventional prefixes.
type requestEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	XMLNS   string   `xml:"xmlns:soapenv,attr"`
	Header  requestHeaderWrapper
	Body    requestBody
}

type requestHeaderWrapper struct {
	XMLName   xml.Name `xml:"soapenv:Header"`
	NSIHeader requestHeader
}

type requestHeader struct {
	XMLName         xml.Name `xml:"header:nsiHeader"`
	XMLNS           string   `xml:"xmlns:header,attr"`
	ProtocolVersion string   `xml:"protocolVersion"`
	CorrelationID   string   `xml:"correlationId"`
	RequesterNSA    string   `xml:"requesterNSA"`
	ProviderNSA     string   `xml:"providerNSA"`
	ReplyTo         string   `xml:"replyTo,omitempty"`
}

type requestBody struct {
	XMLName xml.Name `xml:"soapenv:Body"`
	Payload any
}

type reservePayload struct {
	XMLName             xml.Name `xml:"type:reserve"`
	XMLNS               string   `xml:"xmlns:type,attr"`
	GlobalReservationID string   `xml:"globalReservationId,omitempty"`
	Description         string   `xml:"description,omitempty"`
	Criteria            reserveCriteria
}

type reserveCriteria struct {
	XMLName     xml.Name `xml:"criteria"`
	Version     int      `xml:"version,attr"`
	Schedule    reserveSchedule
	ServiceType string `xml:"serviceType"`
	P2P         p2pService
}

type reserveSchedule struct {
	XMLName   xml.Name `xml:"schedule"`
	StartTime string   `xml:"startTime"`
	EndTime   string   `xml:"endTime"`
}

type p2pService struct {
	XMLName        xml.Name `xml:"p2p:p2ps"`
	XMLNS          string   `xml:"xmlns:p2p,attr"`
	Capacity       int64    `xml:"capacity"`
	Directionality string   `xml:"directionality"`
	SymmetricPath  bool     `xml:"symmetricPath"`
	SourceSTP      string   `xml:"sourceSTP"`
	DestSTP        string   `xml:"destSTP"`
}

// genericPayload covers the operations whose body is just a connectionId.
type genericPayload struct {
	XMLName      xml.Name
	XMLNS        string `xml:"xmlns:type,attr"`
	ConnectionID string `xml:"connectionId"`
}

type queryPayload struct {
	XMLName       xml.Name `xml:"type:querySummarySync"`
	XMLNS         string   `xml:"xmlns:type,attr"`
	ConnectionIDs []string `xml:"connectionId,omitempty"`
}

type ackPayload struct {
	XMLName xml.Name `xml:"type:acknowledgment"`
	XMLNS   string   `xml:"xmlns:type,attr"`
}

// EncodeReserve builds the initial reserve request.
func (c *Codec) EncodeReserve(correlationID string, req ReserveRequest) ([]byte, error) {
	return c.encode(correlationID, c.ReplyTo, reservePayload{
		XMLNS:               nsTypes,
		GlobalReservationID: req.GlobalReservationID,
		Description:         req.Description,
		Criteria: reserveCriteria{
			Version: 0,
			Schedule: reserveSchedule{
				StartTime: req.StartTime.UTC().Format(time.RFC3339),
				EndTime:   req.EndTime.UTC().Format(time.RFC3339),
			},
			ServiceType: ServiceTypeP2P,
			P2P: p2pService{
				XMLNS:          nsP2P,
				Capacity:       req.Bandwidth,
				Directionality: "Bidirectional",
				SymmetricPath:  true,
				SourceSTP:      req.SourceSTP,
				DestSTP:        req.DestSTP,
			},
		},
	})
}

// EncodeReserveCommit builds a reserveCommit request for a held reservation.
func (c *Codec) EncodeReserveCommit(correlationID, connectionID string) ([]byte, error) {
	return c.encodeGeneric("type:reserveCommit", correlationID, connectionID)
}

// EncodeReserveAbort builds a reserveAbort request.
func (c *Codec) EncodeReserveAbort(correlationID, connectionID string) ([]byte, error) {
	return c.encodeGeneric("type:reserveAbort", correlationID, connectionID)
}

// EncodeProvision builds a provision request.
func (c *Codec) EncodeProvision(correlationID, connectionID string) ([]byte, error) {
	return c.encodeGeneric("type:provision", correlationID, connectionID)
}

// EncodeRelease builds a release request.
func (c *Codec) EncodeRelease(correlationID, connectionID string) ([]byte, error) {
	return c.encodeGeneric("type:release", correlationID, connectionID)
}

// EncodeTerminate builds a terminate request.
func (c *Codec) EncodeTerminate(correlationID, connectionID string) ([]byte, error) {
	return c.encodeGeneric("type:terminate", correlationID, connectionID)
}

// EncodeReserveTimeoutACK acknowledges a reserveTimeout notification.
func (c *Codec) EncodeReserveTimeoutACK(correlationID, connectionID string) ([]byte, error) {
	return c.encodeGeneric("type:reserveTimeoutACK", correlationID, connectionID)
}

// EncodeQuerySummarySync builds a synchronous query for the given connection
// ids, or for all our reservations when ids is empty.
func (c *Codec) EncodeQuerySummarySync(correlationID string, connectionIDs []string) ([]byte, error) {
	return c.encode(correlationID, c.ReplyTo, queryPayload{
		XMLNS:         nsTypes,
		ConnectionIDs: connectionIDs,
	})
}

// EncodeAcknowledgement builds the GenericAcknowledgement returned in the
// HTTP response to an inbound callback. The header echoes the callback's
// correlation id and carries no replyTo.
func (c *Codec) EncodeAcknowledgement(correlationID string) ([]byte, error) {
	return c.encode(correlationID, "", ackPayload{XMLNS: nsTypes})
}

func (c *Codec) encodeGeneric(element, correlationID, connectionID string) ([]byte, error) {
	return c.encode(correlationID, c.ReplyTo, genericPayload{
		XMLName:      xml.Name{Local: element},
		XMLNS:        nsTypes,
		ConnectionID: connectionID,
	})
}

func (c *Codec) encode(correlationID, replyTo string, payload any) ([]byte, error) {
	env := requestEnvelope{
		XMLNS: nsSOAPEnv,
		Header: requestHeaderWrapper{
			NSIHeader: requestHeader{
				XMLNS:           nsHeaders,
				ProtocolVersion: ProtocolVersionProvider,
				CorrelationID:   correlationID,
				RequesterNSA:    c.RequesterNSA,
				ProviderNSA:     c.ProviderNSA,
				ReplyTo:         replyTo,
			},
		},
		Body: requestBody{Payload: payload},
	}

	data, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}
