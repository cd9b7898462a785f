package entity

type PipelineState string

const (
	StateReceived     PipelineState = "received"
	StatePreprocessed PipelineState = "preprocessed"
	StateInferred     PipelineState = "inferred"
	StateClassified   PipelineState = "classified"
	StatePersisted    PipelineState = "persisted"
	StateResponded    PipelineState = "responded"
	StateFailed       PipelineState = "failed"
)

var nextPipelineState = map[PipelineState]PipelineState{
	StateReceived:     StatePreprocessed,
	StatePreprocessed: StateInferred,
	StateInferred:     StateClassified,
	StateClassified:   StatePersisted,
	StatePersisted:    StateResponded,
}

// Next returns the state reached when the current stage succeeds.
func (s PipelineState) Next() (PipelineState, bool) {
	next, ok := nextPipelineState[s]
	return next, ok
}

func (s PipelineState) Terminal() bool {
	return s == StateResponded || s == StateFailed
}
