// ABOUTME: Intent bitmask declared at Identify to filter outbound event classes
// ABOUTME: A zero mask subscribes to everything

package protocol

// Intents is the per-session subscription mask.
type Intents uint64

const (
	IntentGuilds        Intents = 1 << 0
	IntentGuildMembers  Intents = 1 << 1
	IntentGuildInvites  Intents = 1 << 2
	IntentGuildMessages Intents = 1 << 3
	IntentUsers         Intents = 1 << 4
)

// Allows reports whether a session with these intents receives an event
// that requires the given intent. Events requiring nothing always pass.
func (i Intents) Allows(required Intents) bool {
	if i == 0 || required == 0 {
		return true
	}
	return i&required != 0
}
