package registry

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/events"
)

func TestRegisterAndGetTool(t *testing.T) {
	r := New(nil)
	err := r.RegisterTool(ToolSpec{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	spec, ok := r.GetTool("echo")
	if !ok {
		t.Fatal("expected echo tool to be registered")
	}
	out, err := spec.Handler(context.Background(), map[string]any{"text": "hi"})
	if err != nil || out != "hi" {
		t.Fatalf("got (%v, %v), want (hi, nil)", out, err)
	}

	if _, ok := r.GetTool("missing"); ok {
		t.Fatal("expected unregistered tool lookup to miss")
	}
}

func TestRegisterToolRejectsEmptyName(t *testing.T) {
	r := New(nil)
	if err := r.RegisterTool(ToolSpec{}); err == nil {
		t.Fatal("expected empty tool name to be rejected")
	}
}

func TestListToolsSortedByName(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.RegisterTool(ToolSpec{Name: name}); err != nil {
			t.Fatalf("RegisterTool(%s): %v", name, err)
		}
	}
	list := r.ListTools()
	if len(list) != 3 || list[0].Name != "alpha" || list[1].Name != "mid" || list[2].Name != "zeta" {
		t.Fatalf("got %+v, want alpha,mid,zeta order", list)
	}
}

func TestRegisterAgentAndWorkflow(t *testing.T) {
	r := New(nil)
	if err := r.RegisterAgent(AgentSpec{Name: "researcher"}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if _, ok := r.GetAgent("researcher"); !ok {
		t.Fatal("expected researcher agent registered")
	}

	if err := r.RegisterWorkflow(WorkflowSpec{Name: "pipeline"}); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	if _, ok := r.GetWorkflow("pipeline"); !ok {
		t.Fatal("expected pipeline workflow factory registered")
	}
}

func TestRegistrationEmitsEventWhenBusPresent(t *testing.T) {
	bus := events.New(nil)
	sub := bus.Subscribe("registry.*.registered", 4, events.DropNewest)
	defer sub.Unsubscribe()

	r := New(bus)
	if err := r.RegisterTool(ToolSpec{Name: "t1"}); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	select {
	case ev := <-sub.Chan():
		if ev.Payload != "t1" {
			t.Fatalf("got payload %v, want t1", ev.Payload)
		}
	default:
		t.Fatal("expected a registration event to be published")
	}
}
