package engine

import (
	"context"
	"fmt"

	"github.com/roach88/cascade/internal/ir"
)

// instanceIDKey is the payload key that addresses a send to a specific
// instance of the target component.
const instanceIDKey = "instanceId"

// ProcessEvents drains the queue in FIFO order, including every event
// enqueued by handlers along the way, and returns when the queue is empty.
//
// Missing components, handlers and instances are logged and skipped. A
// handler error stops the drain with a HANDLER_FAILED RuntimeError; events
// still queued stay queued and a later call resumes with them. Exceeding the
// step quota returns a QUOTA_EXCEEDED RuntimeError and leaves the next event
// at the front of the queue, including a parent dispatch that bubbling had
// not yet reached.
//
// ctx is handed to handlers and observers; the drain itself does not stop
// on cancellation.
func (s *System) ProcessEvents(ctx context.Context) error {
	if !s.processing.CompareAndSwap(false, true) {
		return ErrAlreadyProcessing
	}
	defer s.processing.Store(false)

	quota := NewQuotaEnforcer(s.maxSteps)
	for {
		next, ok := s.queue.Peek()
		if !ok {
			return nil
		}
		if err := quota.Check(next.FlowToken); err != nil {
			return NewQuotaError(next.FlowToken, quota.Current(), quota.MaxSteps())
		}

		ev, _ := s.queue.TryDequeue()
		if err := s.dispatch(ctx, ev, ev.propagated, quota); err != nil {
			return err
		}
	}
}

// ProcessEvent is the typed entry point: the target component and instance
// are derived from payload["instanceId"], which must be a "component:id"
// reference to an instance of a component that handles event. The event is
// queued and the queue drained.
func (s *System) ProcessEvent(ctx context.Context, event string, payload ir.Object) error {
	id, ok := payload.GetString(instanceIDKey)
	if !ok {
		return fmt.Errorf("%w: payload for %q has no string %s", ErrInvalidRef, event, instanceIDKey)
	}
	ref, err := ir.ParseRef(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	c, ok := s.components[ref.Component]
	if !ok {
		return fmt.Errorf("%w: %q (from %s %q)", ErrComponentNotFound, ref.Component, instanceIDKey, id)
	}
	if _, ok := c.EventHandler(event); !ok {
		return fmt.Errorf("%w: %q is handled by %v, instance %q belongs to %q",
			ErrEventMismatch, event, s.handlersOf(event), id, ref.Component)
	}
	s.QueueEvent(ref.Component, ref.ID, event, payload)
	return s.ProcessEvents(ctx)
}

// handlersOf lists the components that handle event, in registration order.
func (s *System) handlersOf(event string) []string {
	var out []string
	for _, name := range s.order {
		if _, ok := s.components[name].handlers[event]; ok {
			out = append(out, name)
		}
	}
	return out
}

// dispatch runs one event to completion: handler, update, sends, observers,
// then default propagation to the parent instance.
func (s *System) dispatch(ctx context.Context, ev QueuedEvent, propagated bool, quota *QuotaEnforcer) error {
	rec := TraceRecord{
		Seq:        s.clock.Next(),
		FlowToken:  ev.FlowToken,
		CauseID:    ev.CauseID,
		Target:     ev.Target,
		Event:      ev.Event,
		Payload:    ev.Payload,
		Propagated: propagated,
	}
	id, err := ir.EventID(ev.FlowToken, ev.Target, ev.Event, ev.Payload, rec.Seq)
	if err != nil {
		s.logger.Warn("event id not computable", "event", ev.Event, "target", ev.Target.String(), "error", err)
		id = fmt.Sprintf("seq-%d", rec.Seq)
	}
	rec.ID = id

	c, ok := s.components[ev.Target.Component]
	if !ok {
		s.logger.Warn("event skipped: component not registered",
			"component", ev.Target.Component, "event", ev.Event, "instance", ev.Target.ID)
		rec.Outcome = OutcomeMissingComponent
		s.notify(ctx, rec)
		return nil
	}

	h, ok := c.EventHandler(ev.Event)
	if !ok {
		s.logger.Warn("event skipped: no handler",
			"component", c.name, "event", ev.Event, "instance", ev.Target.ID)
		rec.Outcome = OutcomeMissingHandler
		s.notify(ctx, rec)
		return nil
	}

	res, err := h(ctx, Call{
		Component:  c,
		InstanceID: ev.Target.ID,
		Event:      ev.Event,
		Payload:    ev.Payload.Clone(),
		FlowToken:  ev.FlowToken,
	})
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		s.logger.Error("handler failed",
			"component", c.name, "event", ev.Event, "instance", ev.Target.ID,
			"flow", ev.FlowToken, "error", err)
		s.notify(ctx, rec)
		return NewHandlerError(ev, err)
	}

	sends, err := s.resolveSends(c, ev, res.Send)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		s.notify(ctx, rec)
		return err
	}

	rec.Outcome = OutcomeHandled
	if res.Update != nil {
		if err := c.UpdateInstance(ev.Target.ID, res.Update); err != nil {
			s.logger.Warn("update dropped: instance not found",
				"component", c.name, "event", ev.Event, "instance", ev.Target.ID)
			rec.Outcome = OutcomeMissingInstance
		} else {
			rec.Update = res.Update.Clone()
			if hash, err := ir.StateHash(c.records[ev.Target.ID]); err == nil {
				rec.StateHash = hash
			}
		}
	}

	for _, sent := range sends {
		s.queue.Enqueue(QueuedEvent{
			Target:    sent.Target,
			Event:     sent.Event,
			Payload:   sent.Payload,
			FlowToken: ev.FlowToken,
			CauseID:   rec.ID,
		})
	}
	rec.Sends = sends

	s.logger.Debug("event dispatched",
		"seq", rec.Seq, "component", c.name, "event", ev.Event,
		"instance", ev.Target.ID, "sends", len(sends), "propagated", propagated)
	s.notify(ctx, rec)

	if res.Send != nil {
		return nil
	}
	return s.propagate(ctx, c, ev, rec.ID, quota)
}

// propagate forwards ev to the parent instance when the component declares
// a parent, the instance is linked to one, the parent component handles the
// event and the event is not stopped. It recurses through the parent's own
// handler result.
func (s *System) propagate(ctx context.Context, c *Component, ev QueuedEvent, causeID string, quota *QuotaEnforcer) error {
	if c.Parent() == "" || !c.Propagates(ev.Event) {
		return nil
	}
	parent, ok := s.rel.parentOf(ev.Target)
	if !ok {
		return nil
	}
	pc, ok := s.components[parent.Component]
	if !ok {
		return nil
	}
	if _, ok := pc.EventHandler(ev.Event); !ok {
		return nil
	}

	up := QueuedEvent{
		Target:     parent,
		Event:      ev.Event,
		Payload:    ev.Payload,
		FlowToken:  ev.FlowToken,
		CauseID:    causeID,
		propagated: true,
	}
	if err := quota.Check(ev.FlowToken); err != nil {
		// The parent dispatch runs first on the next call.
		s.queue.PushFront(up)
		return NewQuotaError(ev.FlowToken, quota.Current(), quota.MaxSteps())
	}
	return s.dispatch(ctx, up, true, quota)
}

// resolveSends addresses each send. With validation enabled, a send whose
// instanceId names another component is an EVENT_MISMATCH error.
func (s *System) resolveSends(c *Component, ev QueuedEvent, sends []Send) ([]Sent, error) {
	if len(sends) == 0 {
		return nil, nil
	}
	out := make([]Sent, 0, len(sends))
	for _, send := range sends {
		component := send.Component
		if component == "" {
			component = c.name
		}
		target := ev.Target.ID
		if id, ok := send.Data.GetString(instanceIDKey); ok {
			target = id
		}

		if s.validation != nil {
			if ref, err := ir.ParseRef(target); err == nil && ref.Component != component {
				return nil, &RuntimeError{
					Code:      ErrCodeEventMismatch,
					Message:   fmt.Sprintf("send %q to %s addresses instance %q", send.Event, component, target),
					FlowToken: ev.FlowToken,
					Target:    ev.Target,
					Event:     ev.Event,
					Err:       ErrEventMismatch,
				}
			}
		}

		payload := send.Data.Clone()
		if payload == nil {
			payload = ir.Object{}
		}
		out = append(out, Sent{
			Target:  ir.InstanceRef{Component: component, ID: target},
			Event:   send.Event,
			Payload: payload,
		})
	}
	return out, nil
}

func (s *System) notify(ctx context.Context, rec TraceRecord) {
	for _, o := range s.observers {
		if err := o.Observe(ctx, rec); err != nil {
			s.logger.Warn("observer failed", "event", rec.Event, "seq", rec.Seq, "error", err)
		}
	}
}
