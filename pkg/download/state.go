package download

// State is a step of a download run.
type State string

const (
	StateInit                 State = "init"
	StateResolveCredential    State = "resolve_credential"
	StateClassifyLayer        State = "classify_layer"
	StateNegotiateChunk       State = "negotiate_chunk"
	StateEnumerateIdentifiers State = "enumerate_identifiers"
	StateEmptyResult          State = "empty_result"
	StateFetchBatches         State = "fetch_batches"
	StateFetchAttachments     State = "fetch_attachments"
	StateConsolidate          State = "consolidate"
	StateDone                 State = "done"
	StateErrorTerminal        State = "error_terminal"
)

var transitions = map[State][]State{
	StateInit:                 {StateResolveCredential},
	StateResolveCredential:    {StateClassifyLayer},
	StateClassifyLayer:        {StateNegotiateChunk},
	StateNegotiateChunk:       {StateEnumerateIdentifiers},
	StateEnumerateIdentifiers: {StateEmptyResult, StateFetchBatches},
	StateEmptyResult:          {StateDone},
	StateFetchBatches:         {StateFetchAttachments},
	StateFetchAttachments:     {StateConsolidate},
	StateConsolidate:          {StateDone},
}

// CanTransition reports whether to may follow from. ErrorTerminal may
// follow any state except Done.
func CanTransition(from, to State) bool {
	if to == StateErrorTerminal {
		return from != StateDone && from != StateErrorTerminal
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrorTerminal
}
