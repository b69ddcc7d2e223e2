package system

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"collector", "rpc"} {
		if err := m.Register(&recordingService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := strings.Join(events, ",")
	want := "start:collector,start:rpc,stop:rpc,stop:collector"
	if got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&recordingService{name: "rpc", events: &events})
	if err := m.Register(&recordingService{name: "rpc", events: &events}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestManagerStartFailureStopsStarted(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&recordingService{name: "collector", events: &events})
	_ = m.Register(&recordingService{name: "rpc", events: &events, startErr: errors.New("bind: address in use")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	got := strings.Join(events, ",")
	if got != "start:collector,start:rpc,stop:collector" {
		t.Fatalf("events = %s", got)
	}
}
