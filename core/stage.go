package core

// Stage is one discrete step in the fixed conversation lifecycle. The legal
// edges between stages are defined by the flow package's transition table;
// core only enumerates the vertices.
type Stage string

const (
	// StageGreeting is the initial stage of every new conversation.
	StageGreeting Stage = "GREETING"
	// StageIntentDetection classifies the user's message into an intent.
	StageIntentDetection Stage = "INTENT_DETECTION"
	// StageInformationGathering collects required context slots, looping on
	// incomplete input with clarifying questions.
	StageInformationGathering Stage = "INFORMATION_GATHERING"
	// StageAgentRouting selects and binds a domain handler.
	StageAgentRouting Stage = "AGENT_ROUTING"
	// StageProcessing invokes the bound handler.
	StageProcessing Stage = "PROCESSING"
	// StageConfirmation awaits the user's yes/no on an actionable outcome.
	StageConfirmation Stage = "CONFIRMATION"
	// StageWorkflowTrigger hands off a durable business process.
	StageWorkflowTrigger Stage = "WORKFLOW_TRIGGER"
	// StageCompletion is the successful terminal stage.
	StageCompletion Stage = "COMPLETION"
	// StageErrorRecovery is reachable from every stage; the recovery manager
	// decides where control goes next.
	StageErrorRecovery Stage = "ERROR_RECOVERY"
	// StageFailed is the unsuccessful terminal stage.
	StageFailed Stage = "FAILED"
)

// String implements fmt.Stringer.
func (s Stage) String() string { return string(s) }

// Terminal reports whether no further turns are processed in this stage.
func (s Stage) Terminal() bool { return s == StageCompletion || s == StageFailed }

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	switch s {
	case StageGreeting, StageIntentDetection, StageInformationGathering,
		StageAgentRouting, StageProcessing, StageConfirmation,
		StageWorkflowTrigger, StageCompletion, StageErrorRecovery, StageFailed:
		return true
	}
	return false
}
