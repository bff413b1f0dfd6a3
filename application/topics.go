package application

import (
	"sort"
	"strings"
	"sync"
)

// TelemetryTopicSuffix terminates every device telemetry topic.
const TelemetryTopicSuffix = "/pub"

// NormalizeTopic appends the telemetry suffix when absent.
func NormalizeTopic(topic string) string {
	if !strings.HasSuffix(topic, TelemetryTopicSuffix) {
		topic = topic + TelemetryTopicSuffix
	}
	return topic
}

// TopicRegistry is the set of broker topics the service subscribes to. Safe
// for concurrent use.
type TopicRegistry struct {
	mu     sync.Mutex
	topics map[string]struct{}
}

func NewTopicRegistry(seed ...string) *TopicRegistry {
	r := &TopicRegistry{topics: map[string]struct{}{}}
	for _, topic := range seed {
		r.Add(topic)
	}
	return r
}

// Add normalizes and records the topic. It returns the normalized name and
// whether the topic was not present before.
func (r *TopicRegistry) Add(topic string) (string, bool) {
	topic = NormalizeTopic(topic)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic]; ok {
		return topic, false
	}
	r.topics[topic] = struct{}{}
	return topic, true
}

// All returns a sorted copy of the topic set.
func (r *TopicRegistry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		all = append(all, topic)
	}
	sort.Strings(all)
	return all
}
