package workflowrun

import (
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

const (
	topicPrefix           = "runs"
	topicSeparator        = "-"
	emptySpaceReplacement = "_"
)

// Topic returns the event streaming topic that carries all of a project's run,
// send, and attribution events.
func Topic(projectID string) string {
	name := strings.ReplaceAll(projectID, " ", emptySpaceReplacement)
	return strings.Join([]string{topicPrefix, name}, topicSeparator)
}

// ParseTopic returns the project ID that a topic built with Topic carries events
// for.
func ParseTopic(topic string) (projectID string, err error) {
	prefix, rest, ok := strings.Cut(topic, topicSeparator)
	if !ok || prefix != topicPrefix || rest == "" {
		return "", errors.Wrap(ErrInvalidArgument, "malformed topic", j.KV("topic", topic))
	}

	return strings.ReplaceAll(rest, emptySpaceReplacement, " "), nil
}
