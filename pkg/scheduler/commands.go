package scheduler

import (
	"context"
	"fmt"

	"kemonod/pkg/filter"
	"kemonod/pkg/registry"
	"kemonod/pkg/timer"
)

// Register adds a creator to the registry. The creator starts Idle and
// is picked up on the next tick.
func (o *Orchestrator) Register(artist *registry.Artist) error {
	if err := o.store.Add(artist); err != nil {
		return err
	}

	o.mu.Lock()
	o.states[artist.ID] = Idle
	o.mu.Unlock()

	o.log.InfoWithFields("creator registered", map[string]interface{}{
		"artist":  artist.DisplayName(),
		"service": artist.Service,
		"user_id": artist.UserID,
	})

	return nil
}

// Deregister removes a creator. Removal is refused while the creator's
// check cycle is running.
func (o *Orchestrator) Deregister(id string) error {
	o.mu.Lock()
	if o.states[id] == Checking {
		o.mu.Unlock()
		return ErrBusy
	}
	delete(o.states, id)
	delete(o.lastRun, id)
	o.mu.Unlock()

	return o.store.Remove(id)
}

// EntityStatus is one row of the List output.
type EntityStatus struct {
	Artist  *registry.Artist
	State   EntityState
	NextDue string
}

// List reports every tracked creator with its run state and next due
// time.
func (o *Orchestrator) List() []EntityStatus {
	now := o.now()

	artists := o.store.All()
	statuses := make([]EntityStatus, 0, len(artists))

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, artist := range artists {
		schedule := o.scheduleFor(artist)
		statuses = append(statuses, EntityStatus{
			Artist:  artist,
			State:   o.states[artist.ID],
			NextDue: schedule.NextDue(now).Format("2006-01-02 15:04"),
		})
	}

	return statuses
}

// CheckNow marks a creator Due regardless of its timer and wakes the
// loop. It is a no-op when the creator is already being checked.
func (o *Orchestrator) CheckNow(id string) error {
	if _, ok := o.store.Get(id); !ok {
		return fmt.Errorf("creator %s not registered", id)
	}

	o.mu.Lock()
	if o.states[id] == Checking {
		o.mu.Unlock()
		return nil
	}
	o.states[id] = Due
	o.mu.Unlock()

	select {
	case o.kick <- struct{}{}:
	default:
	}

	return nil
}

// SetTimer replaces a creator's schedule. Refused mid-check so a cycle
// never observes a timer swap.
func (o *Orchestrator) SetTimer(id string, schedule *timer.Schedule) error {
	o.mu.Lock()
	if o.states[id] == Checking {
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	return o.store.SetTimer(id, schedule)
}

// SetFilter replaces a creator's filter spec. Refused mid-check.
func (o *Orchestrator) SetFilter(id string, spec *filter.Spec, useGlobal bool) error {
	o.mu.Lock()
	if o.states[id] == Checking {
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	return o.store.SetFilter(id, spec, useGlobal)
}

// CheckOnce runs a single synchronous check cycle for one creator,
// bypassing the timer. Used by the one-shot CLI path.
func (o *Orchestrator) CheckOnce(ctx context.Context, id string) (*CycleStats, error) {
	artist, ok := o.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("creator %s not registered", id)
	}

	o.mu.Lock()
	if o.states[id] == Checking {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.states[id] = Checking
	o.lastRun[id] = o.now()
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.states[id] = Idle
		o.mu.Unlock()
	}()

	return o.checkArtist(ctx, artist)
}
