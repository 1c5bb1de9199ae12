// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpcwire is the primary wire transport: a unary gRPC method
// carrying execute-skill requests as google.protobuf.Struct messages.
// The target executor travels in request metadata so a gateway can route
// the call.
package grpcwire

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/wire"
)

const (
	ServiceName = "npc.wire.v1.Executor"
	FullMethod  = "/" + ServiceName + "/ExecuteSkill"
	// ExecutorHeader carries the target executor id.
	ExecutorHeader = "x-npc-executor"
)

// Caller implements wire.Caller over a gRPC connection.
type Caller struct {
	conn grpc.ClientConnInterface
}

// NewCaller wraps an existing connection.
func NewCaller(conn grpc.ClientConnInterface) *Caller {
	return &Caller{conn: conn}
}

// Dial opens a connection to target. Without options the connection is
// insecure.
func Dial(target string, opts ...grpc.DialOption) (*Caller, *grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return NewCaller(conn), conn, nil
}

// Call implements wire.Caller.
func (c *Caller) Call(ctx context.Context, name string, args ...any) (any, error) {
	target, msg, err := wire.ExecuteArgs(name, args)
	if err != nil {
		return nil, err
	}
	req, err := encodeRequest(msg)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "npc grpc wire cannot encode args", err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, ExecutorHeader, target)
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod, req, resp); err != nil {
		return nil, mapStatus(err)
	}
	return decodeResult(resp), nil
}

func mapStatus(err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.DeadlineExceeded, codes.Canceled:
		return errors.New(errors.CodeTimeout, "npc grpc wire deadline", err).WithRecoverable(true)
	case codes.InvalidArgument:
		return errors.New(errors.CodeInvalidInput, st.Message(), err)
	default:
		return errors.New(errors.CodeConnectivity, "npc grpc wire unavailable", err).WithRecoverable(true)
	}
}

// executorService is the handler type of the service descriptor.
type executorService interface {
	execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type server struct {
	exec wire.Executor
}

func (s *server) execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msg, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res := wire.Handle(ctx, s.exec, msg)
	out, err := encodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(executorService)
	if interceptor == nil {
		return s.execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.execute(ctx, req.(*structpb.Struct))
	})
}

// ServiceDesc describes the executor service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*executorService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExecuteSkill", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "npc/wire/v1/executor.proto",
}

// Register serves exec on s.
func Register(s grpc.ServiceRegistrar, exec wire.Executor) {
	s.RegisterService(&ServiceDesc, &server{exec: exec})
}

// ExecutorFromContext returns the target executor id of an incoming call.
func ExecutorFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ExecutorHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

// plain converts typed Go values into the generic shape structpb accepts.
func plain(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

func encodeRequest(msg wire.ExecuteSkillMsg) (*structpb.Struct, error) {
	args, err := plain(msg.Args)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"callId":   msg.CallID,
		"npcNetId": float64(msg.NetID),
		"skill":    msg.Skill,
		"args":     args,
	})
}

func decodeRequest(s *structpb.Struct) (wire.ExecuteSkillMsg, error) {
	m := s.AsMap()
	msg := wire.ExecuteSkillMsg{Args: m["args"]}
	msg.CallID, _ = m["callId"].(string)
	msg.Skill, _ = m["skill"].(string)
	if n, ok := m["npcNetId"].(float64); ok {
		msg.NetID = int64(n)
	}
	if msg.CallID == "" || msg.Skill == "" {
		return wire.ExecuteSkillMsg{}, fmt.Errorf("execute-skill request requires callId and skill")
	}
	return msg, nil
}

func encodeResult(res wire.SkillResultMsg) (*structpb.Struct, error) {
	data, err := plain(res.Data)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"callId": res.CallID,
		"ok":     res.OK,
		"data":   data,
		"error":  res.Error,
	})
}

func decodeResult(s *structpb.Struct) wire.SkillResultMsg {
	m := s.AsMap()
	res := wire.SkillResultMsg{Data: m["data"]}
	res.CallID, _ = m["callId"].(string)
	res.OK, _ = m["ok"].(bool)
	res.Error, _ = m["error"].(string)
	return res
}
