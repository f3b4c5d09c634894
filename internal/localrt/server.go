package localrt

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/mpxgo/mpx/internal/wire"
)

// controlServer accepts attach and ping calls from spawned children. It is
// started lazily by the first spawn and serves until Finalize.
type controlServer struct {
	addr string
	srv  *grpc.Server
	lis  net.Listener
}

func (s *controlServer) stop() {
	s.srv.Stop()
	_ = s.lis.Close()
}

// ensureServer starts the control plane if it is not running and returns
// its dialable address.
func (r *Runtime) ensureServer() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return r.server.addr, nil
	}
	lis, err := net.Listen("tcp", r.opts.ListenAddr)
	if err != nil {
		return "", err
	}
	srv := grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(r.handleControl),
	)
	go func() { _ = srv.Serve(lis) }()
	r.server = &controlServer{addr: lis.Addr().String(), srv: srv, lis: lis}
	return r.server.addr, nil
}

// handleControl dispatches control-plane methods by their full wire name.
// Messages are decoded into dynamic messages built from the wire
// descriptors; there is no generated service code.
func (r *Runtime) handleControl(srv any, stream grpc.ServerStream) error {
	full, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}
	var raw rawMessage
	if err := stream.RecvMsg(&raw); err != nil {
		return err
	}
	switch full {
	case wire.MethodAttach:
		req := dynamicpb.NewMessage(wire.Control().AttachRequest)
		if err := proto.Unmarshal(raw.data, req); err != nil {
			return status.Errorf(codes.InvalidArgument, "decode attach request: %v", err)
		}
		appNum, rank, pid, host, _ := wire.AttachRequestValues(req)
		r.recordAttach(Peer{AppNum: int(appNum), Rank: int(rank), PID: pid, Host: host})
		r.mu.Lock()
		size := r.worldSize
		r.mu.Unlock()
		return sendDynamic(stream, wire.NewAttachResponse(true, int32(size)))
	case wire.MethodPing:
		req := dynamicpb.NewMessage(wire.Control().PingRequest)
		if err := proto.Unmarshal(raw.data, req); err != nil {
			return status.Errorf(codes.InvalidArgument, "decode ping request: %v", err)
		}
		return sendDynamic(stream, wire.NewPingResponse(wire.PingPayload(req)))
	default:
		return status.Errorf(codes.Unimplemented, "unknown control method %s", full)
	}
}

func sendDynamic(stream grpc.ServerStream, m *dynamicpb.Message) error {
	data, err := proto.Marshal(m)
	if err != nil {
		return status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return stream.SendMsg(&rawMessage{data: data})
}

// rawMessage carries pre-encoded bytes through the grpc codec, letting the
// unknown-service handler decode against dynamic descriptors itself.
type rawMessage struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *rawMessage:
		return m.data, nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("localrt: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *rawMessage:
		m.data = append([]byte(nil), data...)
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("localrt: cannot unmarshal into %T", v)
}

func (rawCodec) Name() string { return "proto" }
