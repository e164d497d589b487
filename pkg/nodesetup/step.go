package nodesetup

import "slices"

// Step is one configuration step of a setup session.
type Step uint8

const (
	StepIdle Step = iota
	StepGetComposition
	StepAddAppKey
	StepBindHealthModel
	StepBindServiceModel
	StepSetHealthPublication
	StepSetServicePublication
	StepSetServiceSubscription
	StepDone
)

// String returns the step name.
func (s Step) String() string {
	switch s {
	case StepIdle:
		return "IDLE"
	case StepGetComposition:
		return "GET_COMPOSITION"
	case StepAddAppKey:
		return "ADD_APPKEY"
	case StepBindHealthModel:
		return "BIND_HEALTH_MODEL"
	case StepBindServiceModel:
		return "BIND_SERVICE_MODEL"
	case StepSetHealthPublication:
		return "SET_HEALTH_PUBLICATION"
	case StepSetServicePublication:
		return "SET_SERVICE_PUBLICATION"
	case StepSetServiceSubscription:
		return "SET_SERVICE_SUBSCRIPTION"
	case StepDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// IsExecutable reports whether the step sends a request.
func (s Step) IsExecutable() bool {
	return s > StepIdle && s < StepDone
}

// PerModel reports whether the step configures the current vendor model.
func (s Step) PerModel() bool {
	switch s {
	case StepBindServiceModel, StepSetServicePublication, StepSetServiceSubscription:
		return true
	}
	return false
}

// StepList is an ordered list of executable steps.
type StepList []Step

var (
	deviceSteps = StepList{
		StepGetComposition,
		StepAddAppKey,
		StepBindHealthModel,
		StepSetHealthPublication,
	}

	modelSteps = StepList{
		StepBindServiceModel,
		StepSetServicePublication,
		StepSetServiceSubscription,
	}
)

// DeviceSteps returns the node bootstrap list.
func DeviceSteps() StepList {
	return slices.Clone(deviceSteps)
}

// ModelSteps returns the list run once per discovered vendor model.
func ModelSteps() StepList {
	return slices.Clone(modelSteps)
}

// Validate checks that the list is non-empty and holds only executable steps.
// Per-model steps are rejected because no vendor model is selected until the
// list has finished.
func (l StepList) Validate() error {
	if len(l) == 0 {
		return ErrEmptyStepList
	}
	for i, s := range l {
		if !s.IsExecutable() || s.PerModel() {
			return &StepListError{Index: i, Step: s}
		}
	}
	return nil
}

// StepSelector chooses the step list for a node address.
type StepSelector func(address uint16) StepList

// DefaultStepSelector returns DeviceSteps for every node.
func DefaultStepSelector(uint16) StepList {
	return DeviceSteps()
}
