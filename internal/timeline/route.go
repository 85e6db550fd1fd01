package timeline

import (
	"regexp"
	"strconv"
	"strings"
)

// MissionNotifyPrefix marks user-side notifications raised by the dashboard
const MissionNotifyPrefix = "mission_notify:"

var entityRoutePattern = regexp.MustCompile(`^entity:(\d+):([A-Z]+)->(\S+)`)

// EntityRoute is a parsed "entity:<id>:<TAG>-><targets>" source marker
type EntityRoute struct {
	SenderID  int
	SenderTag string
	Targets   []string
}

// ParseEntityRoute extracts the sender and targets of an entity-to-entity message
func ParseEntityRoute(source string) (EntityRoute, bool) {
	m := entityRoutePattern.FindStringSubmatch(source)
	if m == nil {
		return EntityRoute{}, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return EntityRoute{}, false
	}
	var targets []string
	for _, t := range strings.Split(m[3], ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	return EntityRoute{SenderID: id, SenderTag: m[2], Targets: targets}, true
}
