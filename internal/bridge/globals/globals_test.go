package globals

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/bridge"
	"github.com/llmspell-go/kernel/internal/providers"
	"github.com/llmspell-go/kernel/internal/rag"
)

// Without a provider pool or retrieval pipeline, the pool- and
// RAG-backed globals must be skipped, not injected as dead surfaces.
func TestRegisterSkipsGlobalsWithoutPrerequisites(t *testing.T) {
	reg := bridge.NewGlobalRegistry()
	Register(reg, Deps{}, ExecutionContext{})

	resolved, err := reg.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for _, absent := range []bridge.GlobalName{
		bridge.GlobalAgent, bridge.GlobalLocalLLM, bridge.GlobalRAG, bridge.GlobalContext,
	} {
		if _, ok := resolved[absent]; ok {
			t.Fatalf("%s should be skipped when its backing component is absent", absent)
		}
	}
	for _, present := range []bridge.GlobalName{
		bridge.GlobalState, bridge.GlobalTool, bridge.GlobalWorkflow,
		bridge.GlobalSession, bridge.GlobalMemory, bridge.GlobalLogger,
	} {
		if _, ok := resolved[present]; !ok {
			t.Fatalf("%s should resolve regardless of pool/RAG presence", present)
		}
	}
}

func TestRegisterResolvesFullSetWhenComponentsPresent(t *testing.T) {
	reg := bridge.NewGlobalRegistry()
	Register(reg, Deps{Pool: providers.NewPool(), RAG: &rag.Pipeline{}}, ExecutionContext{})

	resolved, err := reg.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 16 {
		t.Fatalf("got %d resolved globals, want the full set of 16", len(resolved))
	}
}
