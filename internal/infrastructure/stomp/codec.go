package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"arenalink/internal/core/domain"

	"github.com/go-stomp/stomp/v3/frame"
)

// Server-side commands and the headers this server reads or writes.
const (
	CommandConnected = "CONNECTED"
	CommandMessage   = "MESSAGE"
	CommandReceipt   = "RECEIPT"
	CommandError     = "ERROR"
	CommandAck       = "ACK"
	CommandNack      = "NACK"

	HeaderAcceptVersion = "accept-version"
	HeaderVersion       = "version"
	HeaderHeartBeat     = "heart-beat"
	HeaderSession       = "session"
	HeaderServer        = "server"
	HeaderUserName      = "user-name"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
)

const serverName = "arenalink/1.0"

var supportedVersions = []string{"1.2", "1.1", "1.0"}

var ErrUnsupportedVersion = errors.New("no supported STOMP version offered")

// Subprotocols are the WebSocket subprotocols accepted on upgrade.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Decode parses one WebSocket message into a STOMP frame. A heart-beat
// (bare end-of-line) decodes to a nil frame and no error. End-of-lines
// ahead of the command are heart-beats sent in the same message.
func Decode(data []byte) (*frame.Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo appends the wire form of f to buf.
func EncodeTo(buf *bytes.Buffer, f *frame.Frame) error {
	if err := frame.NewWriter(buf).Write(f); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

// NegotiateVersion picks the highest version listed in accept-version.
// A CONNECT without the header is a STOMP 1.0 client.
func NegotiateVersion(acceptVersion string) (string, error) {
	if strings.TrimSpace(acceptVersion) == "" {
		return "1.0", nil
	}
	offered := make(map[string]bool)
	for _, v := range strings.Split(acceptVersion, ",") {
		offered[strings.TrimSpace(v)] = true
	}
	for _, v := range supportedVersions {
		if offered[v] {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, acceptVersion)
}

// ToDomain extracts the fields the broker routes on.
func ToDomain(f *frame.Frame, sessionID domain.SessionID) domain.Frame {
	return domain.Frame{
		Command:        domain.Command(f.Command),
		Destination:    f.Header.Get(HeaderDestination),
		SubscriptionID: f.Header.Get(HeaderID),
		ContentType:    f.Header.Get(HeaderContentType),
		Payload:        f.Body,
		SessionID:      sessionID,
	}
}

func ConnectedFrame(version string, sessionID domain.SessionID, identity *domain.Identity) *frame.Frame {
	f := frame.New(CommandConnected,
		HeaderVersion, version,
		HeaderSession, string(sessionID),
		HeaderServer, serverName,
		HeaderHeartBeat, "0,0",
	)
	if identity != nil {
		f.Header.Set(HeaderUserName, identity.Subject)
	}
	return f
}

func MessageFrame(msg domain.Message) *frame.Frame {
	f := frame.New(CommandMessage,
		HeaderDestination, msg.Destination,
		HeaderMessageID, msg.ID,
		HeaderContentLength, strconv.Itoa(len(msg.Payload)),
	)
	if msg.SubscriptionID != "" {
		f.Header.Set(HeaderSubscription, msg.SubscriptionID)
	}
	if msg.ContentType != "" {
		f.Header.Set(HeaderContentType, msg.ContentType)
	}
	f.Body = msg.Payload
	return f
}

func ReceiptFrame(receiptID string) *frame.Frame {
	return frame.New(CommandReceipt, HeaderReceiptID, receiptID)
}

// ErrorFrame carries a short code in the message header and a human-readable
// detail in the body. receiptID is echoed when the failing frame asked for one.
func ErrorFrame(code, detail, receiptID string) *frame.Frame {
	f := frame.New(CommandError,
		HeaderMessage, code,
		HeaderContentType, "text/plain",
	)
	if receiptID != "" {
		f.Header.Set(HeaderReceiptID, receiptID)
	}
	f.Body = []byte(detail)
	f.Header.Set(HeaderContentLength, strconv.Itoa(len(f.Body)))
	return f
}
