// ABOUTME: Close frame vocabulary shared by the RX and TX pipelines
// ABOUTME: Codes are stable wire values partitioned by fault attribution

package protocol

import "fmt"

// CloseCode is the numeric reason sent in a transport close frame.
// These values are part of the client contract and must never be renumbered.
type CloseCode int

const (
	CloseNormal    CloseCode = 1000
	CloseGoingAway CloseCode = 1001
	// CloseUnsupported is the transport's standard "unsupported data" code,
	// used when a client sends binary frames.
	CloseUnsupported CloseCode = 1003

	CloseInvalidPayload CloseCode = 2001
	CloseNotIdentified  CloseCode = 2004

	CloseBadCredentials    CloseCode = 4001
	CloseAlreadyIdentified CloseCode = 4002

	ClosePubSubUnavailable   CloseCode = 5002
	CloseStorageUnavailable  CloseCode = 5003
	CloseRegistryUnavailable CloseCode = 5004
	CloseHeartbeatTimeout    CloseCode = 5005
	CloseIdentifyTimeout     CloseCode = 5006
)

// ClientCaused reports whether the code attributes the close to the client.
func (c CloseCode) ClientCaused() bool {
	return c == CloseUnsupported || (c >= 2000 && c < 3000) || (c >= 4000 && c < 5000)
}

// ServerCaused reports whether the code attributes the close to a backend fault.
func (c CloseCode) ServerCaused() bool {
	return c >= 5000 && c < 6000
}

// CloseFrame is a close code with a human-readable reason.
type CloseFrame struct {
	Code   CloseCode
	Reason string
}

func (f CloseFrame) String() string {
	return fmt.Sprintf("%d %s", f.Code, f.Reason)
}

// Frames produced by the gateway. Reasons are informational; clients must
// switch on Code.

func UnsupportedData() CloseFrame {
	return CloseFrame{Code: CloseUnsupported, Reason: "binary data sent: only text supported"}
}

func InvalidPayload(err error) CloseFrame {
	return CloseFrame{Code: CloseInvalidPayload, Reason: fmt.Sprintf("invalid JSON found: %v", err)}
}

func NotIdentified() CloseFrame {
	return CloseFrame{Code: CloseNotIdentified, Reason: "data payload sent before identifying"}
}

func BadCredentials() CloseFrame {
	return CloseFrame{Code: CloseBadCredentials, Reason: "bad credentials"}
}

func AlreadyIdentified() CloseFrame {
	return CloseFrame{Code: CloseAlreadyIdentified, Reason: "already identified"}
}

func PubSubUnavailable() CloseFrame {
	return CloseFrame{Code: ClosePubSubUnavailable, Reason: "pub/sub backend not found"}
}

func StorageUnavailable() CloseFrame {
	return CloseFrame{Code: CloseStorageUnavailable, Reason: "storage backend not found"}
}

func RegistryUnavailable() CloseFrame {
	return CloseFrame{Code: CloseRegistryUnavailable, Reason: "session registry not found"}
}

func HeartbeatTimeout() CloseFrame {
	return CloseFrame{Code: CloseHeartbeatTimeout, Reason: "heartbeat timeout"}
}

func IdentifyTimeout() CloseFrame {
	return CloseFrame{Code: CloseIdentifyTimeout, Reason: "identify timeout"}
}

func GoingAway() CloseFrame {
	return CloseFrame{Code: CloseGoingAway, Reason: "gateway shutting down"}
}
