// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package process

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tetgame/tet/internal/game"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/sandbox/lua"
)

// The worker service has one bidirectional stream. The host's first frame
// carries the JSON StartArgs; every later frame in either direction is one
// encoded sandbox Request or Reply. Frames are wrapperspb.BytesValue so no
// generated messages are needed.
const (
	workerServiceName = "tet.sandbox.v1.Worker"
	channelMethod     = "/" + workerServiceName + "/Channel"
)

// Each side's view of the channel.
type (
	serverChannel = grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]
	clientChannel = grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue]
)

// WorkerServer is the child side of the worker service.
type WorkerServer interface {
	Channel(serverChannel) error
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: workerServiceName,
	HandlerType: (*WorkerServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Channel",
		Handler:       channelHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(WorkerServer).Channel(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// RegisterWorkerServer registers srv on s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&workerServiceDesc, srv)
}

// StartArgs configures the worker inside the child process.
type StartArgs struct {
	ScriptTimeout time.Duration `json:"scriptTimeout"`
	Libraries     []string      `json:"libraries,omitempty"`
	Redefinition  string        `json:"redefinition,omitempty"`
}

// workerClient is what the host needs from a running child.
type workerClient interface {
	Open(ctx context.Context, args StartArgs) (*Channel, error)
}

// GRPCClient is the host-side stub of the worker service.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

var _ workerClient = (*GRPCClient)(nil)

// NewGRPCClient returns a stub that opens channels on conn.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// Open starts a channel and sends args as its first frame. The channel
// lives until ctx is cancelled or the child ends it.
func (c *GRPCClient) Open(ctx context.Context, args StartArgs) (*Channel, error) {
	stream, err := c.conn.NewStream(ctx, &workerServiceDesc.Streams[0], channelMethod)
	if err != nil {
		return nil, oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "open worker channel")
	}
	ch := &Channel{stream: &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: stream}}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "encode start args")
	}
	if err := ch.Send(raw); err != nil {
		return nil, err
	}
	return ch, nil
}

// Channel is the host end of an open worker stream. Send and Recv may run
// on different goroutines, but neither may be called concurrently with
// itself.
type Channel struct {
	stream clientChannel
}

// Send writes one encoded request.
func (c *Channel) Send(msg []byte) error {
	if err := c.stream.Send(wrapperspb.Bytes(msg)); err != nil {
		return oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "send to worker")
	}
	return nil
}

// Recv blocks for the next encoded reply. It returns io.EOF when the child
// ends the channel cleanly.
func (c *Channel) Recv() ([]byte, error) {
	frame, err := c.stream.Recv()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "receive from worker")
	}
	return frame.GetValue(), nil
}

// CloseSend tells the child no more requests follow.
func (c *Channel) CloseSend() error {
	return c.stream.CloseSend()
}

// GRPCServer runs one sandbox.Worker per channel. Replies are streamed back
// as the worker produces them.
type GRPCServer struct {
	logger *slog.Logger
}

var _ WorkerServer = (*GRPCServer)(nil)

// NewGRPCServer returns a worker service. A nil logger selects slog.Default.
func NewGRPCServer(logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{logger: logger}
}

// Channel serves one worker for the lifetime of the stream.
func (s *GRPCServer) Channel(stream serverChannel) error {
	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	var args StartArgs
	if err := json.Unmarshal(first.GetValue(), &args); err != nil {
		return oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "decode start args")
	}

	var (
		mu      sync.Mutex
		sendErr error
	)
	send := func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		if sendErr == nil {
			sendErr = stream.Send(wrapperspb.Bytes(b))
		}
	}
	failed := func() error {
		mu.Lock()
		defer mu.Unlock()
		return sendErr
	}

	w, err := s.newWorker(args, send)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Close()

	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		w.Handle(ctx, frame.GetValue())
		if err := failed(); err != nil {
			return err
		}
	}
}

func (s *GRPCServer) newWorker(args StartArgs, send func([]byte)) (*sandbox.Worker, error) {
	policy, err := game.ParseRedefinitionPolicy(args.Redefinition)
	if err != nil {
		return nil, err
	}
	engine, err := lua.NewEngine(
		lua.WithScriptTimeout(args.ScriptTimeout),
		lua.WithLibraries(args.Libraries...),
		lua.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	return sandbox.NewWorker(engine, send,
		sandbox.WithWorkerLogger(s.logger),
		sandbox.WithRedefinitionPolicy(policy),
	), nil
}
