// Package wire builds the protobuf descriptors of the mpx control plane.
// The messages are constructed programmatically (there is no generated
// code); callers exchange dynamicpb messages built from these descriptors.
package wire

import (
	"fmt"
	"sync"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Full method names of the control service, as used on the grpc wire.
const (
	MethodAttach = "/mpx.control.v1.Control/Attach"
	MethodPing   = "/mpx.control.v1.Control/Ping"
)

// Descriptors bundles the built control-plane descriptors.
type Descriptors struct {
	File    protoreflect.FileDescriptor
	Service protoreflect.ServiceDescriptor

	Attach protoreflect.MethodDescriptor
	Ping   protoreflect.MethodDescriptor

	AttachRequest  protoreflect.MessageDescriptor
	AttachResponse protoreflect.MessageDescriptor
	PingRequest    protoreflect.MessageDescriptor
	PingResponse   protoreflect.MessageDescriptor
}

// Control returns the process-wide control-plane descriptors, built once.
// Descriptor construction is trusted: a build failure is a programming
// error and panics.
var Control = sync.OnceValue(func() *Descriptors {
	d, err := build()
	if err != nil {
		panic(fmt.Sprintf("wire: control descriptor build: %v", err))
	}
	return d
})

func build() (*Descriptors, error) {
	f := protobuilder.NewFile("mpx/control/v1/control.proto")
	f.SetPackageName(protoreflect.FullName("mpx.control.v1"))
	f.SetSyntax(protoreflect.Proto3)

	attachReq := protobuilder.NewMessage("AttachRequest")
	addFields(attachReq,
		scalarField("app_num", protoreflect.Int32Kind),
		scalarField("rank", protoreflect.Int32Kind),
		scalarField("pid", protoreflect.Int64Kind),
		scalarField("host", protoreflect.StringKind),
		scalarField("processor", protoreflect.StringKind),
	)

	attachResp := protobuilder.NewMessage("AttachResponse")
	addFields(attachResp,
		scalarField("accepted", protoreflect.BoolKind),
		scalarField("parent_size", protoreflect.Int32Kind),
	)

	pingReq := protobuilder.NewMessage("PingRequest")
	addFields(pingReq, scalarField("payload", protoreflect.StringKind))

	pingResp := protobuilder.NewMessage("PingResponse")
	addFields(pingResp, scalarField("payload", protoreflect.StringKind))

	svc := protobuilder.NewService("Control")
	svc.AddMethod(protobuilder.NewMethod("Attach",
		protobuilder.RpcTypeMessage(attachReq, false),
		protobuilder.RpcTypeMessage(attachResp, false),
	))
	svc.AddMethod(protobuilder.NewMethod("Ping",
		protobuilder.RpcTypeMessage(pingReq, false),
		protobuilder.RpcTypeMessage(pingResp, false),
	))

	f.AddMessage(attachReq)
	f.AddMessage(attachResp)
	f.AddMessage(pingReq)
	f.AddMessage(pingResp)
	f.AddService(svc)

	fd, err := f.Build()
	if err != nil {
		return nil, err
	}

	service := fd.Services().ByName("Control")
	d := &Descriptors{
		File:           fd,
		Service:        service,
		Attach:         service.Methods().ByName("Attach"),
		Ping:           service.Methods().ByName("Ping"),
		AttachRequest:  fd.Messages().ByName("AttachRequest"),
		AttachResponse: fd.Messages().ByName("AttachResponse"),
		PingRequest:    fd.Messages().ByName("PingRequest"),
		PingResponse:   fd.Messages().ByName("PingResponse"),
	}
	return d, nil
}

func scalarField(name string, kind protoreflect.Kind) *protobuilder.FieldBuilder {
	return protobuilder.NewField(protoreflect.Name(name), protobuilder.FieldTypeScalar(kind))
}

func addFields(mb *protobuilder.MessageBuilder, fields ...*protobuilder.FieldBuilder) {
	for i, fb := range fields {
		fb.SetNumber(protoreflect.FieldNumber(i + 1))
		mb.AddField(fb)
	}
}

// ---------------- dynamic message helpers ----------------

// NewAttachRequest builds a dynamic AttachRequest.
func NewAttachRequest(appNum, rank int32, pid int64, host, processor string) *dynamicpb.Message {
	d := Control()
	m := dynamicpb.NewMessage(d.AttachRequest)
	set(m, "app_num", protoreflect.ValueOfInt32(appNum))
	set(m, "rank", protoreflect.ValueOfInt32(rank))
	set(m, "pid", protoreflect.ValueOfInt64(pid))
	set(m, "host", protoreflect.ValueOfString(host))
	set(m, "processor", protoreflect.ValueOfString(processor))
	return m
}

// AttachRequestValues reads the fields of a dynamic AttachRequest.
func AttachRequestValues(m protoreflect.Message) (appNum, rank int32, pid int64, host, processor string) {
	appNum = int32(getInt(m, "app_num"))
	rank = int32(getInt(m, "rank"))
	pid = getInt(m, "pid")
	host = getString(m, "host")
	processor = getString(m, "processor")
	return
}

// NewAttachResponse builds a dynamic AttachResponse.
func NewAttachResponse(accepted bool, parentSize int32) *dynamicpb.Message {
	d := Control()
	m := dynamicpb.NewMessage(d.AttachResponse)
	set(m, "accepted", protoreflect.ValueOfBool(accepted))
	set(m, "parent_size", protoreflect.ValueOfInt32(parentSize))
	return m
}

// AttachResponseValues reads the fields of a dynamic AttachResponse.
func AttachResponseValues(m protoreflect.Message) (accepted bool, parentSize int32) {
	fd := m.Descriptor().Fields().ByName("accepted")
	accepted = m.Get(fd).Bool()
	parentSize = int32(getInt(m, "parent_size"))
	return
}

// NewPingRequest builds a dynamic PingRequest.
func NewPingRequest(payload string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(Control().PingRequest)
	set(m, "payload", protoreflect.ValueOfString(payload))
	return m
}

// NewPingResponse echoes payload in a dynamic PingResponse.
func NewPingResponse(payload string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(Control().PingResponse)
	set(m, "payload", protoreflect.ValueOfString(payload))
	return m
}

// PingPayload reads the payload of either ping message.
func PingPayload(m protoreflect.Message) string { return getString(m, "payload") }

func set(m *dynamicpb.Message, field string, v protoreflect.Value) {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		panic(fmt.Sprintf("wire: unknown field %q on %s", field, m.Descriptor().FullName()))
	}
	m.Set(fd, v)
}

func getInt(m protoreflect.Message, field string) int64 {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		panic(fmt.Sprintf("wire: unknown field %q on %s", field, m.Descriptor().FullName()))
	}
	return m.Get(fd).Int()
}

func getString(m protoreflect.Message, field string) string {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		panic(fmt.Sprintf("wire: unknown field %q on %s", field, m.Descriptor().FullName()))
	}
	return m.Get(fd).String()
}
