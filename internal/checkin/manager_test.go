package checkin

import (
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(time.Minute)
	s := NewSession("teacher-1", testSessionConfig(), NewGate(&fakeStorage{}, &fakeRecords{}))
	m.Put(s)

	got, ok := m.Get(s.ID)
	if !ok || got != s {
		t.Fatal("Get() should return the stored session")
	}

	m.Remove(s.ID)
	if _, ok := m.Get(s.ID); ok {
		t.Error("removed session must not be retrievable")
	}
	m.Remove(s.ID) // unknown id is a no-op
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	s := NewSession("teacher-1", testSessionConfig(), NewGate(&fakeStorage{}, &fakeRecords{}))
	m.Put(s)

	time.Sleep(20 * time.Millisecond)
	m.expire()

	if _, ok := m.Get(s.ID); ok {
		t.Error("idle session should have been expired")
	}
}
