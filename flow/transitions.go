package flow

import (
	"fmt"

	"github.com/hupe1980/convocore/core"
)

// Event is a stage-machine input. Together with the current stage it
// determines the next stage via the transition table; there is no implicit
// branching outside the table.
type Event string

const (
	// EventGreeted leaves the greeting stage, first turn only.
	EventGreeted Event = "greeted"
	// EventIntentNeedsSlots moves to information gathering when the detected
	// intent requires fields not yet present in context.
	EventIntentNeedsSlots Event = "intent_needs_slots"
	// EventIntentComplete skips gathering when all required slots are filled.
	EventIntentComplete Event = "intent_complete"
	// EventClarify is the information-gathering self-loop on incomplete input.
	EventClarify Event = "clarify"
	// EventSlotsFilled leaves gathering once every required slot is present.
	EventSlotsFilled Event = "slots_filled"
	// EventHandlerBound follows a successful handler selection.
	EventHandlerBound Event = "handler_bound"
	// EventActionable marks a handler response that represents a concrete
	// business outcome and needs confirmation.
	EventActionable Event = "actionable"
	// EventInformational marks a purely informational handler response.
	EventInformational Event = "informational"
	// EventConfirmed is the user's explicit yes on an actionable outcome.
	EventConfirmed Event = "confirmed"
	// EventRejected re-routes on rejection or modification, slots preserved.
	EventRejected Event = "rejected"
	// EventTriggerAccepted follows a successful workflow hand-off. The
	// conversation's job ends here; the business process runs independently.
	EventTriggerAccepted Event = "trigger_accepted"
	// EventFail moves any non-terminal stage into error recovery.
	EventFail Event = "fail"
	// EventEnd short-circuits any non-terminal stage to completion on an
	// explicit end request.
	EventEnd Event = "end"
)

// transitions is the explicit stage graph: current stage × event → next
// stage. EventFail and EventEnd are handled uniformly in Next rather than
// enumerated per stage.
var transitions = map[core.Stage]map[Event]core.Stage{
	core.StageGreeting: {
		EventGreeted: core.StageIntentDetection,
	},
	core.StageIntentDetection: {
		EventIntentNeedsSlots: core.StageInformationGathering,
		EventIntentComplete:   core.StageAgentRouting,
	},
	core.StageInformationGathering: {
		EventClarify:     core.StageInformationGathering,
		EventSlotsFilled: core.StageAgentRouting,
	},
	core.StageAgentRouting: {
		EventHandlerBound: core.StageProcessing,
	},
	core.StageProcessing: {
		EventActionable:    core.StageConfirmation,
		EventInformational: core.StageCompletion,
	},
	core.StageConfirmation: {
		EventConfirmed: core.StageWorkflowTrigger,
		EventRejected:  core.StageAgentRouting,
	},
	core.StageWorkflowTrigger: {
		EventTriggerAccepted: core.StageCompletion,
	},
}

// Next resolves the edge for (from, ev). An undefined edge is a programming
// error surfaced as an error value so callers route it through recovery
// instead of corrupting flow state.
func Next(from core.Stage, ev Event) (core.Stage, error) {
	if from.Terminal() {
		return "", fmt.Errorf("no transitions from terminal stage %s", from)
	}
	switch ev {
	case EventFail:
		return core.StageErrorRecovery, nil
	case EventEnd:
		return core.StageCompletion, nil
	}
	edges, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("stage %s has no outgoing edges for event %s", from, ev)
	}
	to, ok := edges[ev]
	if !ok {
		return "", fmt.Errorf("event %s not legal in stage %s", ev, from)
	}
	return to, nil
}

// CanRecoverTo reports whether error recovery may re-enter the given stage.
// Recovery can re-enter any non-terminal stage or move to the failed
// terminal.
func CanRecoverTo(to core.Stage) bool {
	return to.Valid() && (to == core.StageFailed || !to.Terminal())
}
