package session

import "time"

// State is the coordinator's tagged union. Exactly one variant is current at
// any time; mutation happens only on the coordinator's event loop.
type State interface {
	Name() string
	isState()
}

type Idle struct{}

type LoadingModel struct{}

type Recording struct {
	StartTime time.Time
}

type Processing struct{}

type Completed struct {
	Text string
}

type Failed struct {
	Message string
}

func (Idle) Name() string         { return "idle" }
func (LoadingModel) Name() string { return "loading-model" }
func (Recording) Name() string    { return "recording" }
func (Processing) Name() string   { return "processing" }
func (Completed) Name() string    { return "completed" }
func (Failed) Name() string       { return "error" }

func (Idle) isState()         {}
func (LoadingModel) isState() {}
func (Recording) isState()    {}
func (Processing) isState()   {}
func (Completed) isState()    {}
func (Failed) isState()       {}
