package nodesetup

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// ServiceModel is a vendor model configured during a session.
type ServiceModel struct {
	ElementAddress uint16
	Model          wire.ModelID
	GroupAddress   uint16
}

// Result describes a completed setup session.
type Result struct {
	SessionID   string
	Address     uint16
	Composition composition.Record
	Models      []ServiceModel
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SuccessFunc is called once when a session completes.
type SuccessFunc func(Result)

// FailureFunc is called once when a session fails.
type FailureFunc func(*SetupError)

// session is the state of one setup run. It is discarded when the run ends.
type session struct {
	id          string
	address     uint16
	appKey      []byte
	appKeyIndex uint16
	startedAt   time.Time

	steps StepList
	index int

	expected ExpectedResponse

	// Encoded request of the current step. outstanding is set while it has
	// been sent and not yet answered.
	reqOpcode   wire.Opcode
	reqParams   []byte
	outstanding bool

	// Last acknowledgement accepted and the request it answered, used to
	// drop late duplicates once the cursor has moved on.
	last    ack
	hasLast bool

	timeoutRetries int
	sendRetries    int
	retryTimer     Timer
	retrySeq       uint64

	record composition.Record
	cursor composition.Cursor
	model  ServiceModel
	models []ServiceModel
}

func (s *session) current() Step {
	return s.steps[s.index]
}

type ack struct {
	opcode    wire.Opcode
	params    []byte
	reqOpcode wire.Opcode
	reqParams []byte
}

// lateDuplicate reports whether a message repeats the last accepted
// acknowledgement. A repeat is a fresh answer when the outstanding request
// is identical to the one that acknowledgement answered.
func (s *session) lateDuplicate(op wire.Opcode, params []byte) bool {
	if !s.hasLast || op != s.last.opcode || !slices.Equal(params, s.last.params) {
		return false
	}
	return s.reqOpcode != s.last.reqOpcode || !slices.Equal(s.reqParams, s.last.reqParams)
}

// Machine runs node setup sessions, one at a time.
//
// Machine is not safe for concurrent use. HandleEvent, Start and Scheduler
// callbacks must all run on the same goroutine.
type Machine struct {
	cfg       Config
	selector  StepSelector
	match     composition.Predicate
	onSuccess SuccessFunc
	onFailure FailureFunc

	sess *session
}

// New creates a Machine.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	selector := cfg.Selector
	if selector == nil {
		selector = DefaultStepSelector
	}
	return &Machine{
		cfg:      cfg,
		selector: selector,
		match:    composition.MinModelID(cfg.VendorModelBoundary),
	}, nil
}

// SetCallbacks registers the session outcome callbacks. Both are required.
// Callbacks run after the session has been cleared, so they may call Start.
func (m *Machine) SetCallbacks(onSuccess SuccessFunc, onFailure FailureFunc) error {
	if onSuccess == nil || onFailure == nil {
		return ErrNilCallback
	}
	m.onSuccess = onSuccess
	m.onFailure = onFailure
	return nil
}

// Active reports whether a session is running.
func (m *Machine) Active() bool {
	return m.sess != nil
}

// Step returns the current step, or StepIdle when no session is running.
func (m *Machine) Step() Step {
	if m.sess == nil {
		return StepIdle
	}
	return m.sess.current()
}

// Address returns the node being configured, or 0 when idle.
func (m *Machine) Address() uint16 {
	if m.sess == nil {
		return wire.AddressUnassigned
	}
	return m.sess.address
}

// SessionID returns the correlation ID of the running session.
func (m *Machine) SessionID() string {
	if m.sess == nil {
		return ""
	}
	return m.sess.id
}

// Start begins configuring the node at address. retries is the number of
// acknowledgement timeouts tolerated over the whole session.
//
// Start returns ErrSessionActive without side effects while another session
// runs. Once Start returns nil, the outcome is reported through exactly one
// of the callbacks.
func (m *Machine) Start(address uint16, retries int, appKey []byte, appKeyIndex uint16) error {
	if m.onSuccess == nil || m.onFailure == nil {
		return ErrCallbacksNotSet
	}
	if m.sess != nil {
		m.warnLog("setup already in progress, start rejected",
			"active", fmt.Sprintf("0x%04X", m.sess.address),
			"requested", fmt.Sprintf("0x%04X", address))
		return ErrSessionActive
	}

	switch {
	case !wire.IsUnicast(address):
		return fmt.Errorf("%w: address 0x%04X is not unicast", ErrInvalidArgument, address)
	case retries < 0:
		return fmt.Errorf("%w: negative retry budget", ErrInvalidArgument)
	case len(appKey) != wire.KeySize:
		return fmt.Errorf("%w: app key is %d bytes", ErrInvalidArgument, len(appKey))
	case appKeyIndex > wire.MaxKeyIndex:
		return fmt.Errorf("%w: app key index 0x%X", ErrInvalidArgument, appKeyIndex)
	}

	steps := m.selector(address)
	if err := steps.Validate(); err != nil {
		return fmt.Errorf("select steps for 0x%04X: %w", address, err)
	}

	if m.cfg.Binder != nil {
		if err := m.cfg.Binder.Bind(address); err != nil {
			return fmt.Errorf("%w: 0x%04X: %w", ErrBind, address, err)
		}
	}

	s := &session{
		id:             uuid.NewString(),
		address:        address,
		appKey:         slices.Clone(appKey),
		appKeyIndex:    appKeyIndex,
		startedAt:      time.Now(),
		steps:          slices.Clone(steps),
		timeoutRetries: retries,
		sendRetries:    m.cfg.SendRetryLimit,
	}
	m.sess = s

	m.debugLog("setup session started",
		"session", s.id,
		"node", fmt.Sprintf("0x%04X", address),
		"steps", len(steps),
		"retries", retries)
	m.logState(s, log.StateEntitySession, "IDLE", "ACTIVE", "")
	m.logState(s, log.StateEntityStep, StepIdle.String(), s.current().String(), "")

	m.execute(s)
	return nil
}

// Cancel ends the running session without invoking either callback.
func (m *Machine) Cancel() {
	s := m.sess
	if s == nil {
		return
	}
	m.clear(s)
	m.cfg.Client.CancelPending()
	m.logState(s, log.StateEntitySession, "ACTIVE", "CANCELLED", "")
}

// HandleEvent processes a transport event for the running session.
func (m *Machine) HandleEvent(ev Event) {
	s := m.sess
	if s == nil {
		m.debugLog("event ignored, no active session", "kind", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case EventTimeout:
		m.handleTimeout(s)
	case EventMessage:
		m.handleMessage(s, ev.Opcode, ev.Params)
	default:
		m.debugLog("unknown event kind ignored", "kind", ev.Kind)
	}
}

func (m *Machine) handleTimeout(s *session) {
	m.stopRetryTimer(s)

	if s.timeoutRetries == 0 {
		m.fail(s, &SetupError{Err: ErrTimeout})
		return
	}
	s.timeoutRetries--

	m.debugLog("acknowledgement timeout, resending",
		"session", s.id,
		"step", s.current().String(),
		"remaining", s.timeoutRetries)
	m.emit(s, log.Event{
		Layer:    log.LayerSetup,
		Category: log.CategoryRetry,
		Retry:    &log.RetryEvent{Kind: log.RetryTimeout, Remaining: s.timeoutRetries, Step: s.current().String()},
	})

	m.execute(s)
}

func (m *Machine) handleMessage(s *session, op wire.Opcode, params []byte) {
	if !s.outstanding {
		m.debugLog("no request outstanding, message ignored", "session", s.id, "opcode", op.String())
		return
	}
	if s.lateDuplicate(op, params) {
		m.debugLog("late duplicate ignored", "session", s.id, "opcode", op.String())
		return
	}

	in := &log.MessageEvent{Opcode: op, Step: s.current().String(), Params: slices.Clone(params)}
	inbound := log.Event{Direction: log.DirectionIn, Layer: log.LayerAccess, Category: log.CategoryMessage, Message: in}

	if op != s.expected.Opcode {
		m.emit(s, inbound)
		m.fail(s, &SetupError{Err: ErrUnexpectedOpcode, Opcode: &op})
		return
	}

	msg, err := wire.Decode(op, params)
	if err != nil {
		m.emit(s, inbound)
		m.fail(s, &SetupError{Err: fmt.Errorf("%w: %w", ErrMalformed, err)})
		return
	}
	if sm, ok := msg.(wire.StatusMessage); ok {
		st := sm.StatusCode()
		in.Status = &st
	}
	m.emit(s, inbound)

	switch checkExpectedStatus(s.expected, msg) {
	case CheckUnexpectedOpcode:
		m.fail(s, &SetupError{Err: ErrUnexpectedOpcode, Opcode: &op})
	case CheckFail:
		m.fail(s, &SetupError{Err: ErrRejected, Status: in.Status})
	case CheckPass:
		s.outstanding = false
		s.last = ack{opcode: op, params: slices.Clone(params), reqOpcode: s.reqOpcode, reqParams: s.reqParams}
		s.hasLast = true
		m.stopRetryTimer(s)

		if cds, ok := msg.(wire.CompositionDataStatus); ok {
			s.record = composition.NewRecord(cds)
			s.cursor.Reset()
		}
		m.advance(s)
	}
}

// advance moves the cursor after an accepted response. At the end of a
// list the next matching vendor model, if any, replaces the list with the
// per-model steps.
func (m *Machine) advance(s *session) {
	prev := s.current()

	if s.index == len(s.steps)-1 {
		model, ok := composition.FindNextVendorModel(s.record, &s.cursor, m.match)
		if !ok {
			m.succeed(s)
			return
		}
		s.model = ServiceModel{
			ElementAddress: s.address + uint16(s.cursor.Element()),
			Model:          model,
			GroupAddress:   wire.GroupAddressFor(model.ModelID),
		}
		s.models = append(s.models, s.model)
		s.steps = modelSteps
		s.index = 0

		m.debugLog("service model selected",
			"session", s.id,
			"model", model.String(),
			"element", fmt.Sprintf("0x%04X", s.model.ElementAddress))
	} else {
		s.index++
	}

	m.logState(s, log.StateEntityStep, prev.String(), s.current().String(), "")
	s.sendRetries = m.cfg.SendRetryLimit
	m.execute(s)
}

// execute declares the expected response for the current step and sends its
// request.
func (m *Machine) execute(s *session) {
	step := s.current()
	msg, exp := m.request(s, step)

	s.expected = exp
	s.outstanding = false

	params, err := msg.MarshalParams()
	if err != nil {
		m.fail(s, &SetupError{Err: fmt.Errorf("%w: encode %s: %w", ErrTransport, msg.Opcode(), err)})
		return
	}
	s.reqOpcode, s.reqParams = msg.Opcode(), params
	m.emit(s, log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerAccess,
		Category:  log.CategoryMessage,
		Message:   &log.MessageEvent{Opcode: msg.Opcode(), Step: step.String(), Params: params},
	})

	err = m.cfg.Client.Send(msg)
	switch {
	case err == nil:
		s.outstanding = true
	case errors.Is(err, ErrBusy):
		m.handleBusy(s)
	default:
		m.fail(s, &SetupError{Err: fmt.Errorf("%w: %w", ErrTransport, err)})
	}
}

func (m *Machine) handleBusy(s *session) {
	m.cfg.Client.CancelPending()

	if s.sendRetries == 0 {
		m.fail(s, &SetupError{Err: fmt.Errorf("%w: %w, send retries exhausted", ErrTransport, ErrBusy)})
		return
	}
	s.sendRetries--

	m.emit(s, log.Event{
		Layer:    log.LayerTransport,
		Category: log.CategoryRetry,
		Retry: &log.RetryEvent{
			Kind:      log.RetryBusy,
			Remaining: s.sendRetries,
			Delay:     m.cfg.SendRetryDelay,
			Step:      s.current().String(),
		},
	})

	s.retrySeq++
	seq := s.retrySeq
	s.retryTimer = m.cfg.Scheduler.Schedule(m.cfg.SendRetryDelay, func() {
		if m.sess != s || s.retrySeq != seq {
			return
		}
		s.retryTimer = nil
		m.execute(s)
	})
}

// request builds the request for step and the acknowledgement it expects.
func (m *Machine) request(s *session, step Step) (wire.Message, ExpectedResponse) {
	health := wire.SIGModel(wire.ModelIDHealthServer)
	success := []wire.Status{wire.StatusSuccess}

	switch step {
	case StepGetComposition:
		return wire.CompositionDataGet{Page: 0},
			ExpectedResponse{Opcode: wire.OpCompositionDataStatus}

	case StepAddAppKey:
		req := wire.AppKeyAdd{
			NetKeyIndex: m.cfg.NetKeyIndex,
			AppKeyIndex: s.appKeyIndex,
			AppKey:      s.appKey,
		}
		// A resent AppKey Add may find the key already installed.
		return req, ExpectedResponse{
			Opcode:   wire.OpAppKeyStatus,
			Accepted: []wire.Status{wire.StatusSuccess, wire.StatusKeyIndexAlreadyStored},
		}

	case StepBindHealthModel:
		req := wire.ModelAppBind{ElementAddress: s.address, AppKeyIndex: s.appKeyIndex, Model: health}
		return req, ExpectedResponse{Opcode: wire.OpModelAppStatus, Accepted: success}

	case StepSetHealthPublication:
		pub := wire.Publication{
			ElementAddress: s.address,
			PublishAddress: m.cfg.ProvisionerAddress,
			AppKeyIndex:    s.appKeyIndex,
			TTL:            m.cfg.ttl(),
			Period:         m.cfg.HealthPeriod,
			Retransmit:     m.cfg.Retransmit,
			Model:          health,
		}
		return wire.ModelPublicationSet{Publication: pub},
			ExpectedResponse{Opcode: wire.OpModelPublicationStatus, Accepted: success}

	case StepBindServiceModel:
		req := wire.ModelAppBind{
			ElementAddress: s.model.ElementAddress,
			AppKeyIndex:    s.appKeyIndex,
			Model:          s.model.Model,
		}
		return req, ExpectedResponse{Opcode: wire.OpModelAppStatus, Accepted: success}

	case StepSetServicePublication:
		pub := wire.Publication{
			ElementAddress: s.model.ElementAddress,
			PublishAddress: s.model.GroupAddress,
			AppKeyIndex:    s.appKeyIndex,
			TTL:            m.cfg.ttl(),
			Period:         m.cfg.ServicePeriod,
			Retransmit:     m.cfg.Retransmit,
			Model:          s.model.Model,
		}
		return wire.ModelPublicationSet{Publication: pub},
			ExpectedResponse{Opcode: wire.OpModelPublicationStatus, Accepted: success}

	case StepSetServiceSubscription:
		req := wire.ModelSubscriptionAdd{
			ElementAddress: s.model.ElementAddress,
			Address:        s.model.GroupAddress,
			Model:          s.model.Model,
		}
		return req, ExpectedResponse{Opcode: wire.OpModelSubscriptionStatus, Accepted: success}
	}

	// StepList.Validate keeps Idle and Done out of every list.
	panic(fmt.Sprintf("nodesetup: step %s has no request", step))
}

func (m *Machine) succeed(s *session) {
	m.clear(s)

	res := Result{
		SessionID:   s.id,
		Address:     s.address,
		Composition: s.record,
		Models:      s.models,
		StartedAt:   s.startedAt,
		FinishedAt:  time.Now(),
	}

	m.logState(s, log.StateEntityStep, s.current().String(), StepDone.String(), "")
	m.logState(s, log.StateEntitySession, "ACTIVE", "DONE", "")
	m.infoLog("node configured",
		"session", s.id,
		"node", fmt.Sprintf("0x%04X", s.address),
		"models", len(s.models),
		"duration", res.FinishedAt.Sub(res.StartedAt))

	m.onSuccess(res)
}

func (m *Machine) fail(s *session, e *SetupError) {
	m.clear(s)
	m.cfg.Client.CancelPending()

	e.SessionID = s.id
	e.Address = s.address
	e.Step = s.current()
	if e.Step.PerModel() {
		model := s.model.Model
		e.Model = &model
	}

	var code *int
	if e.Status != nil {
		c := int(*e.Status)
		code = &c
	}
	m.emit(s, log.Event{
		Layer:    log.LayerSetup,
		Category: log.CategoryError,
		Error:    &log.ErrorEventData{Layer: log.LayerSetup, Message: e.Err.Error(), Code: code, Context: e.Step.String()},
	})
	m.logState(s, log.StateEntitySession, "ACTIVE", "FAILED", e.Err.Error())
	m.warnLog("node setup failed", "session", s.id, "error", e.Error())

	m.onFailure(e)
}

// clear ends the session so callbacks can start the next one.
func (m *Machine) clear(s *session) {
	m.stopRetryTimer(s)
	if m.sess == s {
		m.sess = nil
	}
}

func (m *Machine) stopRetryTimer(s *session) {
	s.retrySeq++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (m *Machine) logState(s *session, entity log.StateEntity, from, to, reason string) {
	m.emit(s, log.Event{
		Layer:       log.LayerSetup,
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{Entity: entity, OldState: from, NewState: to, Reason: reason},
	})
}

func (m *Machine) emit(s *session, e log.Event) {
	if m.cfg.ProtocolLogger == nil {
		return
	}
	e.Timestamp = time.Now()
	e.SessionID = s.id
	e.NodeAddress = s.address
	m.cfg.ProtocolLogger.Log(e)
}

func (m *Machine) debugLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(msg, args...)
	}
}

func (m *Machine) infoLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Info(msg, args...)
	}
}

func (m *Machine) warnLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Warn(msg, args...)
	}
}
