package core

// Topic names are part of the wire contract and must be reproduced exactly
// for interoperability with other submitters and workers.
const (
	// TaskTopic carries one JSON TaskRequest per submitted task.
	TaskTopic = "agents:tasks"

	resultTopicPrefix   = "agents:results:"
	progressTopicPrefix = "agents:progress:"
)

// ResultTopic returns the per-task result topic. Exactly one message is ever
// published on it.
func ResultTopic(taskID string) string { return resultTopicPrefix + taskID }

// ProgressTopic returns the per-task progress topic carrying zero or more
// best-effort TaskProgress messages.
func ProgressTopic(taskID string) string { return progressTopicPrefix + taskID }
