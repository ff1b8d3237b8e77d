package server

import (
	"context"
	"os"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/ember/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One worker and session store serve every test. Tests that need a clean
// set of sessions build their own with newIsolatedEnv.
// ---------------------------------------------------------------------------

var (
	testWorker   *VMWorker
	testSessions *SessionStore
)

func TestMain(m *testing.M) {
	testWorker = NewVMWorker()
	testSessions = NewSessionStore(testEnvConfig())

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

// testEnvConfig adds a host native, twice(n), to the session environments.
func testEnvConfig() vm.Config {
	return vm.Config{
		Memory: 64 * 1024,
		Natives: []vm.Native{
			{Name: "twice", Fn: func(e *vm.Env, args []vm.Value) vm.Value {
				return vm.Number(vm.Arg(args, 0).Num() * 2)
			}},
		},
	}
}

func newTestEvalService() *EvalService {
	return NewEvalService(testWorker, testSessions)
}

// testEnv bundles a worker with its own session store.
type testEnv struct {
	Worker   *VMWorker
	Sessions *SessionStore
}

// newIsolatedEnv creates a fresh worker and session store.
// The caller must call env.Stop() when done.
func newIsolatedEnv(cfg vm.Config) *testEnv {
	return &testEnv{Worker: NewVMWorker(), Sessions: NewSessionStore(cfg)}
}

func (e *testEnv) Stop() {
	e.Worker.Stop()
}

// ---------------------------------------------------------------------------
// Request builder helpers
// ---------------------------------------------------------------------------

func structReq(t *testing.T, fields map[string]any) *connect.Request[structpb.Struct] {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return connect.NewRequest(msg)
}

func field(resp *connect.Response[structpb.Struct], name string) *structpb.Value {
	return resp.Msg.GetFields()[name]
}

func str(resp *connect.Response[structpb.Struct], name string) string {
	return field(resp, name).GetStringValue()
}

func bg() context.Context {
	return context.Background()
}
