// Package operator implements the four operator-facing commands:
// start, stop, release, and the three list queries. It resolves a
// charge point id against the registry and crosses into the matching
// actor's serialized context, never mutating actor state directly.
package operator

import (
	"context"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/csms/registry"
	"github.com/ocpp-csms/csms/internal/csms/station"
)

// Facade exposes the operator API over a Registry.
type Facade struct {
	registry *registry.Registry
}

// New builds a Facade over reg.
func New(reg *registry.Registry) *Facade {
	return &Facade{registry: reg}
}

func (f *Facade) resolve(chargePointID string) (*station.Actor, *core.Error) {
	actor, ok := f.registry.Get(chargePointID)
	if !ok {
		return nil, core.Newf(core.KindNotConnected, "no connection for %s", chargePointID)
	}
	return actor, nil
}

// Start issues a RemoteStartTransaction on connectorID with idTag.
func (f *Facade) Start(ctx context.Context, chargePointID string, connectorID int, idTag string) *core.Error {
	actor, err := f.resolve(chargePointID)
	if err != nil {
		return err
	}
	return actor.Start(ctx, connectorID, idTag)
}

// Stop issues a RemoteStopTransaction, resolving the transaction
// either directly or via connectorID.
func (f *Facade) Stop(ctx context.Context, chargePointID string, transactionID *int, connectorID *int) (int, *core.Error) {
	actor, err := f.resolve(chargePointID)
	if err != nil {
		return 0, err
	}
	return actor.Stop(ctx, transactionID, connectorID)
}

// Release unlocks an idle connector.
func (f *Facade) Release(ctx context.Context, chargePointID string, connectorID int) *core.Error {
	actor, err := f.resolve(chargePointID)
	if err != nil {
		return err
	}
	return actor.Release(ctx, connectorID)
}

// ActiveSessionView names the charge point a session belongs to, so
// callers spanning the whole registry need not pass an id separately.
type ActiveSessionView = station.ActiveSession

// CompletedSessionView is a finished session scoped to its charge point.
type CompletedSessionView struct {
	ChargePointID string
	station.CompletedSession
}

// ConnectorStatusView is a connector's last known status.
type ConnectorStatusView = station.ConnectorStatus

// ListActive returns every live session across every connected charge
// point.
func (f *Facade) ListActive() []ActiveSessionView {
	var out []ActiveSessionView
	for _, id := range f.registry.Ids() {
		actor, ok := f.registry.Get(id)
		if !ok {
			continue
		}
		out = append(out, actor.ListActive()...)
	}
	return out
}

// ListCompleted returns every finished session across every connected
// charge point.
func (f *Facade) ListCompleted() []CompletedSessionView {
	var out []CompletedSessionView
	for _, id := range f.registry.Ids() {
		actor, ok := f.registry.Get(id)
		if !ok {
			continue
		}
		for _, cs := range actor.ListCompleted() {
			out = append(out, CompletedSessionView{ChargePointID: id, CompletedSession: cs})
		}
	}
	return out
}

// ListStatus returns every connector's last reported status across
// every connected charge point.
func (f *Facade) ListStatus() []ConnectorStatusView {
	var out []ConnectorStatusView
	for _, id := range f.registry.Ids() {
		actor, ok := f.registry.Get(id)
		if !ok {
			continue
		}
		out = append(out, actor.ListStatus()...)
	}
	return out
}
