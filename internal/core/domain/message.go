package domain

type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandStomp       Command = "STOMP"
	CommandSend        Command = "SEND"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandDisconnect  Command = "DISCONNECT"
)

// Frame is an inbound client frame after transport decoding.
type Frame struct {
	Command        Command
	Destination    string
	SubscriptionID string
	ContentType    string
	Payload        []byte
	SessionID      SessionID
}

// Message is an outbound delivery queued for one session.
type Message struct {
	ID             string
	Destination    string
	SubscriptionID string
	ContentType    string
	Payload        []byte
}

type RouteOutcome struct {
	Delivered int
	// Dropped is set when nobody was listening. It is an expected outcome, not an error.
	Dropped bool
}
