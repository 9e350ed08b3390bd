// ABOUTME: Results returned by inbound event handlers to drive the RX loop
// ABOUTME: Continue and SendAndContinue keep reading; CloseWith and SenderGone end it

package protocol

// DirectiveKind enumerates handler outcomes.
type DirectiveKind int

const (
	DirectiveContinue DirectiveKind = iota
	DirectiveSendAndContinue
	DirectiveCloseWith
	DirectiveSenderGone
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveContinue:
		return "continue"
	case DirectiveSendAndContinue:
		return "send_and_continue"
	case DirectiveCloseWith:
		return "close_with"
	case DirectiveSenderGone:
		return "sender_gone"
	default:
		return "unknown"
	}
}

// Directive tells the RX loop what to do after handling one event.
type Directive struct {
	Kind  DirectiveKind
	Event Outbound
	Close CloseFrame
}

func Continue() Directive { return Directive{Kind: DirectiveContinue} }

func SendAndContinue(ev Outbound) Directive {
	return Directive{Kind: DirectiveSendAndContinue, Event: ev}
}

func CloseWith(f CloseFrame) Directive {
	return Directive{Kind: DirectiveCloseWith, Close: f}
}

func SenderGone() Directive { return Directive{Kind: DirectiveSenderGone} }

// Terminal reports whether the RX loop must stop.
func (d Directive) Terminal() bool {
	return d.Kind == DirectiveCloseWith || d.Kind == DirectiveSenderGone
}
