package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/pkg/image"
	"github.com/chazu/ember/vm"
	"github.com/chazu/ember/vm/codec"
)

// EvalServiceName is the fully qualified service name.
const EvalServiceName = "ember.v1.EvalService"

// Procedure paths. Requests and responses are google.protobuf.Struct
// messages, so clients need no generated code.
const (
	EvalProcedure        = "/" + EvalServiceName + "/Eval"
	CallProcedure        = "/" + EvalServiceName + "/Call"
	ResetProcedure       = "/" + EvalServiceName + "/Reset"
	CloseProcedure       = "/" + EvalServiceName + "/Close"
	DisassembleProcedure = "/" + EvalServiceName + "/Disassemble"
)

// EvalService implements the evaluation service handlers.
type EvalService struct {
	worker   *VMWorker
	sessions *SessionStore
	natives  vm.Resolver
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *VMWorker, sessions *SessionStore) *EvalService {
	return &EvalService{
		worker:   worker,
		sessions: sessions,
		natives:  newNativeTable(sessions.cfg.Natives),
	}
}

// Handlers returns the procedure paths and their Connect handlers. They
// speak the Connect, gRPC and gRPC-Web protocols.
func (s *EvalService) Handlers(opts ...connect.HandlerOption) map[string]http.Handler {
	return map[string]http.Handler{
		EvalProcedure:        connect.NewUnaryHandler(EvalProcedure, s.Eval, opts...),
		CallProcedure:        connect.NewUnaryHandler(CallProcedure, s.Call, opts...),
		ResetProcedure:       connect.NewUnaryHandler(ResetProcedure, s.Reset, opts...),
		CloseProcedure:       connect.NewUnaryHandler(CloseProcedure, s.Close, opts...),
		DisassembleProcedure: connect.NewUnaryHandler(DisassembleProcedure, s.Disassemble, opts...),
	}
}

// Eval executes source in a session. Without a session field a new
// session is created; its ID comes back in the response.
//
// Request:  {source, session?}
// Response: {session, success, result?, type?, handle?, cbor?, output?,
// error?, code?, line?, column?}
func (s *EvalService) Eval(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	var session *Session
	if id := stringField(req.Msg, "session"); id != "" {
		var ok bool
		if session, ok = s.sessions.Get(id); !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
		}
	} else {
		var err error
		if session, err = s.sessions.Create(""); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}

	result, err := s.worker.Do(ctx, func() any {
		v, err := session.Env.Execute(source)
		return s.evaluation(session, v, err)
	})
	return respond(result, err)
}

// Call invokes a function held by a handle with arguments converted from
// the request.
//
// Request:  {session, handle, args?}
// Response: as for Eval.
func (s *EvalService) Call(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	session, err := s.requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	handle := stringField(req.Msg, "handle")
	if handle == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}
	var args []any
	if list := req.Msg.GetFields()["args"].GetListValue(); list != nil {
		args = list.AsSlice()
	}

	result, err := s.worker.Do(ctx, func() any {
		if _, ok := session.Handles.Lookup(handle); !ok {
			return connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", handle))
		}
		v, err := s.call(session, handle, args)
		return s.evaluation(session, v, err)
	})
	return respond(result, err)
}

// call converts args, pins them while the conversion allocates, and calls
// the handle's value.
func (s *EvalService) call(session *Session, handle string, args []any) (vm.Value, error) {
	e := session.Env
	arr, err := codec.Import(e, args)
	if err != nil {
		return vm.Undefined, err
	}
	pin := session.Handles.Create(arr)
	defer session.Handles.Release(pin)

	arr, _ = session.Handles.Lookup(pin)
	values := make([]vm.Value, e.Len(arr))
	for i := range values {
		values[i] = e.Index(arr, i)
	}
	fn, _ := session.Handles.Lookup(handle)
	return e.Call(fn, values...)
}

// Reset discards a session's globals and handles.
//
// Request:  {session}
// Response: {session}
func (s *EvalService) Reset(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	result, err := s.worker.Do(ctx, func() any {
		if _, err := s.sessions.Reset(id); err != nil {
			return connect.NewError(connect.CodeNotFound, err)
		}
		return map[string]any{"session": id}
	})
	return respond(result, err)
}

// Close destroys a session.
//
// Request:  {session}
// Response: {}
func (s *EvalService) Close(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return respond(map[string]any{}, nil)
}

// Disassemble compiles source without running it and returns the
// listing of every function.
//
// Request:  {source}
// Response: {listing} or {error, code, line?, column?}
func (s *EvalService) Disassemble(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	x, err := compiler.Compile(source, compiler.Options{Natives: s.natives})
	if err != nil {
		resp := map[string]any{}
		describeError(resp, err)
		return respond(resp, nil)
	}
	listing, err := image.Disassemble(x)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return respond(map[string]any{"listing": listing}, nil)
}

func (s *EvalService) requireSession(msg *structpb.Struct) (*Session, error) {
	id := stringField(msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

// evaluation describes the outcome of running script code. A runtime
// error or escaped exception is cleared so the session stays usable.
// Must be called on the worker goroutine.
func (s *EvalService) evaluation(session *Session, v vm.Value, err error) map[string]any {
	resp := map[string]any{"session": session.ID}
	if out := session.Output.String(); out != "" {
		resp["output"] = out
		session.Output.Reset()
	}
	e := session.Env
	if err != nil {
		resp["success"] = false
		describeError(resp, err)
		if e.Err() != nil {
			e.Recover()
		} else {
			// A host Call leaves an escaped exception pending.
			e.Catch()
		}
		return resp
	}

	resp["success"] = true
	resp["result"] = e.Format(v)
	resp["type"] = v.Tag().String()
	if data, err := codec.Marshal(e, v); err == nil {
		resp["cbor"] = base64.StdEncoding.EncodeToString(data)
	}
	if v.IsFunction() || v.IsArray() || v.IsObject() || v.IsBuffer() || v.IsForeign() {
		resp["handle"] = session.Handles.Create(v)
	}
	return resp
}

func describeError(resp map[string]any, err error) {
	resp["error"] = err.Error()
	resp["code"] = errcode.CodeOf(err).String()
	var ee *errcode.Error
	if errors.As(err, &ee) && ee.Line > 0 {
		resp["line"] = float64(ee.Line)
		resp["column"] = float64(ee.Col)
	}
}

// respond converts a worker result into a response. A *connect.Error
// result is returned as the call's error.
func respond(result any, err error) (*connect.Response[structpb.Struct], error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return nil, connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return nil, connect.NewError(connect.CodeUnavailable, err)
	default:
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	switch r := result.(type) {
	case *connect.Error:
		return nil, r
	case map[string]any:
		msg, err := structpb.NewStruct(r)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return connect.NewResponse(msg), nil
	}
	return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("unexpected worker result %T", result))
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}
