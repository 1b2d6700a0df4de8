package bus

// Message is the broker payload driving the step state machine. One message
// corresponds to one pending execution of one step record.
type Message struct {
	ID           string         `json:"id"`
	WorkflowKind string         `json:"workflowKind"`
	StepKind     string         `json:"stepKind"`
	StepID       int64          `json:"stepId"`
	WorkflowID   int64          `json:"workflowId"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Topic names are `<family>.<scope>`, e.g. auxWorkflow.2000, so one broker
// serves multiple isolated chains without cross-talk.
func Topic(family string, scope string) string {
	return family + "." + scope
}
