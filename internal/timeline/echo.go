package timeline

import (
	"regexp"

	"claw-companion/backend/internal/models"
)

// A fan-out echo is the status line a recipient shows after receiving a
// message from another entity: "entity:<id>:<TAG>:<text>". The sender's
// own record already carries the message.
var fanoutEchoPattern = regexp.MustCompile(`(?s)^entity:\d+:[A-Z]+:.*$`)

// IsEchoOfFanout reports whether statusLine is a recipient-side echo
func IsEchoOfFanout(statusLine string) bool {
	return fanoutEchoPattern.MatchString(statusLine)
}

// IsFanoutEcho reports whether ev is an entity-authored echo of a fan-out
func IsFanoutEcho(ev models.RemoteEvent) bool {
	return !ev.FromUser && IsEchoOfFanout(ev.Text)
}

// IsDiscarded reports whether ev never becomes a timeline record: fan-out
// echoes and events the remote log has not assigned an id. Merging and the
// data audit must agree on this set.
func IsDiscarded(ev models.RemoteEvent) bool {
	return IsFanoutEcho(ev) || ComputeDedupKey(ev) == nil
}
