// Package proto defines the gRPC service the UI layer uses to reach the
// background task layer.
//
// The service descriptor and client are hand-written in the shape
// protoc-gen-go-grpc produces; messages are encoded with the JSON codec
// registered in codec.go.
package proto

import (
	"context"

	"google.golang.org/grpc"
)

// TaskBridgeServer is the server-side interface for stylesync.TaskBridge.
type TaskBridgeServer interface {
	ListRequests(context.Context, *ListRequestsRequest) (*ListRequestsResponse, error)
	RestoreRequest(context.Context, *RestoreRequestRequest) (*RestoreRequestResponse, error)
	RestoreAll(context.Context, *RestoreAllRequest) (*RestoreAllResponse, error)
	DiscardRequest(context.Context, *DiscardRequestRequest) (*DiscardRequestResponse, error)
	SetAutoRestore(context.Context, *SetAutoRestoreRequest) (*SetAutoRestoreResponse, error)
	EnqueueUpload(context.Context, *EnqueueUploadRequest) (*EnqueueUploadResponse, error)
	Transition(context.Context, *TransitionRequest) (*TransitionResponse, error)
	Drain(context.Context, *DrainRequest) (*DrainResponse, error)
}

// TaskBridgeClient is the client-side interface for stylesync.TaskBridge.
type TaskBridgeClient interface {
	ListRequests(ctx context.Context, in *ListRequestsRequest, opts ...grpc.CallOption) (*ListRequestsResponse, error)
	RestoreRequest(ctx context.Context, in *RestoreRequestRequest, opts ...grpc.CallOption) (*RestoreRequestResponse, error)
	RestoreAll(ctx context.Context, in *RestoreAllRequest, opts ...grpc.CallOption) (*RestoreAllResponse, error)
	DiscardRequest(ctx context.Context, in *DiscardRequestRequest, opts ...grpc.CallOption) (*DiscardRequestResponse, error)
	SetAutoRestore(ctx context.Context, in *SetAutoRestoreRequest, opts ...grpc.CallOption) (*SetAutoRestoreResponse, error)
	EnqueueUpload(ctx context.Context, in *EnqueueUploadRequest, opts ...grpc.CallOption) (*EnqueueUploadResponse, error)
	Transition(ctx context.Context, in *TransitionRequest, opts ...grpc.CallOption) (*TransitionResponse, error)
	Drain(ctx context.Context, in *DrainRequest, opts ...grpc.CallOption) (*DrainResponse, error)
}

const serviceName = "stylesync.TaskBridge"

// ---- server registration ----

// ServiceDesc is the grpc.ServiceDesc for stylesync.TaskBridge.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TaskBridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRequests", Handler: _TaskBridge_ListRequests_Handler},
		{MethodName: "RestoreRequest", Handler: _TaskBridge_RestoreRequest_Handler},
		{MethodName: "RestoreAll", Handler: _TaskBridge_RestoreAll_Handler},
		{MethodName: "DiscardRequest", Handler: _TaskBridge_DiscardRequest_Handler},
		{MethodName: "SetAutoRestore", Handler: _TaskBridge_SetAutoRestore_Handler},
		{MethodName: "EnqueueUpload", Handler: _TaskBridge_EnqueueUpload_Handler},
		{MethodName: "Transition", Handler: _TaskBridge_Transition_Handler},
		{MethodName: "Drain", Handler: _TaskBridge_Drain_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/stylesync.proto",
}

// RegisterTaskBridgeServer registers the server implementation with a gRPC server.
func RegisterTaskBridgeServer(s grpc.ServiceRegistrar, srv TaskBridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a MethodDesc handler that decodes In, honours interceptors
// and dispatches to call.
func unary[In any, Out any](method string, call func(TaskBridgeServer, context.Context, *In) (*Out, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(In)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TaskBridgeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TaskBridgeServer), ctx, req.(*In))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	_TaskBridge_ListRequests_Handler   = unary("ListRequests", TaskBridgeServer.ListRequests)
	_TaskBridge_RestoreRequest_Handler = unary("RestoreRequest", TaskBridgeServer.RestoreRequest)
	_TaskBridge_RestoreAll_Handler     = unary("RestoreAll", TaskBridgeServer.RestoreAll)
	_TaskBridge_DiscardRequest_Handler = unary("DiscardRequest", TaskBridgeServer.DiscardRequest)
	_TaskBridge_SetAutoRestore_Handler = unary("SetAutoRestore", TaskBridgeServer.SetAutoRestore)
	_TaskBridge_EnqueueUpload_Handler  = unary("EnqueueUpload", TaskBridgeServer.EnqueueUpload)
	_TaskBridge_Transition_Handler     = unary("Transition", TaskBridgeServer.Transition)
	_TaskBridge_Drain_Handler          = unary("Drain", TaskBridgeServer.Drain)
)

// ---- client implementation ----

type taskBridgeClient struct {
	cc grpc.ClientConnInterface
}

// NewTaskBridgeClient creates a TaskBridge client. Calls are sent with the
// JSON content-subtype unless the caller overrides it.
func NewTaskBridgeClient(cc grpc.ClientConnInterface) TaskBridgeClient {
	return &taskBridgeClient{cc: cc}
}

func invoke[Out any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Out, error) {
	out := new(Out)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskBridgeClient) ListRequests(ctx context.Context, in *ListRequestsRequest, opts ...grpc.CallOption) (*ListRequestsResponse, error) {
	return invoke[ListRequestsResponse](ctx, c.cc, "ListRequests", in, opts)
}

func (c *taskBridgeClient) RestoreRequest(ctx context.Context, in *RestoreRequestRequest, opts ...grpc.CallOption) (*RestoreRequestResponse, error) {
	return invoke[RestoreRequestResponse](ctx, c.cc, "RestoreRequest", in, opts)
}

func (c *taskBridgeClient) RestoreAll(ctx context.Context, in *RestoreAllRequest, opts ...grpc.CallOption) (*RestoreAllResponse, error) {
	return invoke[RestoreAllResponse](ctx, c.cc, "RestoreAll", in, opts)
}

func (c *taskBridgeClient) DiscardRequest(ctx context.Context, in *DiscardRequestRequest, opts ...grpc.CallOption) (*DiscardRequestResponse, error) {
	return invoke[DiscardRequestResponse](ctx, c.cc, "DiscardRequest", in, opts)
}

func (c *taskBridgeClient) SetAutoRestore(ctx context.Context, in *SetAutoRestoreRequest, opts ...grpc.CallOption) (*SetAutoRestoreResponse, error) {
	return invoke[SetAutoRestoreResponse](ctx, c.cc, "SetAutoRestore", in, opts)
}

func (c *taskBridgeClient) EnqueueUpload(ctx context.Context, in *EnqueueUploadRequest, opts ...grpc.CallOption) (*EnqueueUploadResponse, error) {
	return invoke[EnqueueUploadResponse](ctx, c.cc, "EnqueueUpload", in, opts)
}

func (c *taskBridgeClient) Transition(ctx context.Context, in *TransitionRequest, opts ...grpc.CallOption) (*TransitionResponse, error) {
	return invoke[TransitionResponse](ctx, c.cc, "Transition", in, opts)
}

func (c *taskBridgeClient) Drain(ctx context.Context, in *DrainRequest, opts ...grpc.CallOption) (*DrainResponse, error) {
	return invoke[DrainResponse](ctx, c.cc, "Drain", in, opts)
}
