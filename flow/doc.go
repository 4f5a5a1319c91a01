// Package flow drives one conversation turn through the fixed stage graph:
// greeting, intent detection, information gathering, agent routing,
// processing, confirmation, workflow trigger and completion, with error
// recovery reachable from every stage.
//
// Every transition runs as a single atomic read-modify-write against the
// state store guarded by the flow-state version. A writer that loses the
// version race reloads and re-evaluates instead of overwriting, which
// serializes turns per conversation while unrelated conversations proceed
// fully in parallel. Stage failures never propagate raw to the caller; the
// recovery manager's strategy ladder decides where control goes next.
package flow
