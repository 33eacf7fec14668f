package security

import (
	"context"
	"sync"
	"time"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{}
}

func (f *fakeEventStore) SaveEvent(ctx context.Context, e SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEventStore) RecentEvents(ctx context.Context, serviceID string, kind EventKind, since time.Time) ([]SecurityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SecurityEvent
	for _, e := range f.events {
		if e.ServiceID == serviceID && e.Kind == kind && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]Incident
	nextID    int
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: make(map[string]Incident)}
}

func (f *fakeIncidentStore) SaveIncident(ctx context.Context, i Incident) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	i.IncidentID = string(rune('0' + f.nextID))
	f.incidents[i.IncidentID] = i
	return i.IncidentID, nil
}

func (f *fakeIncidentStore) AppendIncidentEvents(ctx context.Context, incidentID string, eventIDs []string, severity Severity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.incidents[incidentID]
	i.EventIDs = eventIDs
	i.Severity = severity
	f.incidents[incidentID] = i
	return nil
}

func (f *fakeIncidentStore) UpdateIncidentStatus(ctx context.Context, incidentID string, status IncidentStatus, closedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.incidents[incidentID]
	i.Status = status
	i.ClosedAt = closedAt
	f.incidents[incidentID] = i
	return nil
}

func (f *fakeIncidentStore) UpdateIncidentSeverity(ctx context.Context, incidentID string, severity Severity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.incidents[incidentID]
	i.Severity = severity
	f.incidents[incidentID] = i
	return nil
}

func (f *fakeIncidentStore) GetIncident(ctx context.Context, incidentID string) (Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incidents[incidentID], nil
}

func (f *fakeIncidentStore) ListIncidents(ctx context.Context, status IncidentStatus) ([]Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Incident
	for _, i := range f.incidents {
		if status == "" || i.Status == status {
			out = append(out, i)
		}
	}
	return out, nil
}
