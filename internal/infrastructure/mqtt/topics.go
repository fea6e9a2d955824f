package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic linebuffer publishes to.
const TopicPrefix = "linebuffer"

// StatusTopic returns the retained online/offline status topic for a client.
//
// Example: linebuffer/ingest-01/status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// ValidateFilter checks a subscription topic filter.
//
// Rules:
//   - must not be empty
//   - "#" may only appear as the whole last level
//   - "+" must occupy a whole level
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty filter", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// LastLevel returns the final level of a topic name.
//
// Example: LastLevel("sensors/kitchen/temperature") == "temperature"
func LastLevel(topic string) string {
	topic = strings.TrimRight(topic, "/")
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
