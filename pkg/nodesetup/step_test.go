package nodesetup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/citymesh/meshcfg-go/pkg/wire"
)

func TestStepString(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{StepIdle, "IDLE"},
		{StepGetComposition, "GET_COMPOSITION"},
		{StepAddAppKey, "ADD_APPKEY"},
		{StepBindHealthModel, "BIND_HEALTH_MODEL"},
		{StepBindServiceModel, "BIND_SERVICE_MODEL"},
		{StepSetHealthPublication, "SET_HEALTH_PUBLICATION"},
		{StepSetServicePublication, "SET_SERVICE_PUBLICATION"},
		{StepSetServiceSubscription, "SET_SERVICE_SUBSCRIPTION"},
		{StepDone, "DONE"},
		{Step(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.String())
		})
	}
}

func TestStepLists(t *testing.T) {
	assert.Equal(t, StepList{StepGetComposition, StepAddAppKey, StepBindHealthModel, StepSetHealthPublication}, DeviceSteps())
	assert.Equal(t, StepList{StepBindServiceModel, StepSetServicePublication, StepSetServiceSubscription}, ModelSteps())

	// Callers get their own copy.
	l := DeviceSteps()
	l[0] = StepDone
	assert.Equal(t, StepGetComposition, DeviceSteps()[0])
}

func TestStepListValidate(t *testing.T) {
	tests := []struct {
		name    string
		list    StepList
		wantErr error
	}{
		{"device list", DeviceSteps(), nil},
		{"single step", StepList{StepAddAppKey}, nil},
		{"empty", nil, ErrEmptyStepList},
		{"idle", StepList{StepGetComposition, StepIdle}, ErrInvalidStepList},
		{"done sentinel", StepList{StepGetComposition, StepDone}, ErrInvalidStepList},
		{"per-model step", StepList{StepBindServiceModel}, ErrInvalidStepList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.list.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	var sle *StepListError
	err := StepList{StepAddAppKey, StepDone}.Validate()
	if assert.ErrorAs(t, err, &sle) {
		assert.Equal(t, 1, sle.Index)
		assert.Equal(t, StepDone, sle.Step)
	}
}

func TestCheckExpectedStatus(t *testing.T) {
	appKey := ExpectedResponse{
		Opcode:   wire.OpAppKeyStatus,
		Accepted: []wire.Status{wire.StatusSuccess, wire.StatusKeyIndexAlreadyStored},
	}
	anyBind := ExpectedResponse{Opcode: wire.OpModelAppStatus}
	comp := ExpectedResponse{Opcode: wire.OpCompositionDataStatus, Accepted: []wire.Status{wire.StatusSuccess}}

	tests := []struct {
		name string
		exp  ExpectedResponse
		msg  wire.Message
		want CheckResult
	}{
		{"success accepted", appKey, wire.AppKeyStatus{Status: wire.StatusSuccess}, CheckPass},
		{"already stored accepted", appKey, wire.AppKeyStatus{Status: wire.StatusKeyIndexAlreadyStored}, CheckPass},
		{"other status rejected", appKey, wire.AppKeyStatus{Status: wire.StatusInsufficientResources}, CheckFail},
		{"opcode mismatch with accepted status", appKey, wire.ModelAppStatus{Status: wire.StatusSuccess}, CheckUnexpectedOpcode},
		{"empty list accepts any status", anyBind, wire.ModelAppStatus{Status: wire.StatusCannotBind}, CheckPass},
		{"empty list still checks opcode", anyBind, wire.AppKeyStatus{}, CheckUnexpectedOpcode},
		{"composition has no status", comp, wire.CompositionDataStatus{Page: 0}, CheckPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkExpectedStatus(tt.exp, tt.msg))
		})
	}

	assert.Equal(t, "UNEXPECTED_OPCODE", CheckUnexpectedOpcode.String())
}

func TestSetupErrorMessage(t *testing.T) {
	status := wire.StatusCannotBind
	model := vendor(0xC001)
	e := &SetupError{Address: 0x0010, Step: StepBindServiceModel, Model: &model, Status: &status, Err: ErrRejected}

	assert.Equal(t, "node 0x0010: BIND_SERVICE_MODEL 0x0059:0xC001: configuration rejected (status CANNOT_BIND)", e.Error())
	assert.ErrorIs(t, e, ErrRejected)
}
