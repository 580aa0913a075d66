package grpc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingLogger struct {
	logging.Nop
	mu   sync.Mutex
	args [][]any
}

func (l *recordingLogger) Debug(_ context.Context, _ string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.args = append(l.args, args)
}

func (l *recordingLogger) With(...any) logging.Logger { return l }

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	logger := &recordingLogger{}
	s := NewGRPCServer("127.0.0.1:0", logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	h := func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	}

	resp, err := s.loggingInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if len(logger.args) != 1 {
		t.Fatalf("expected one log line, got %d", len(logger.args))
	}
	if logger.args[0][1] != info.FullMethod || logger.args[0][3] != codes.OK.String() {
		t.Fatalf("unexpected log args: %v", logger.args[0])
	}
}

func TestLoggingInterceptor_RecordsErrorCode(t *testing.T) {
	logger := &recordingLogger{}
	s := NewGRPCServer("127.0.0.1:0", logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Service/Other"}
	want := status.Error(codes.Unavailable, "down")
	h := func(ctx context.Context, req any) (any, error) {
		return nil, want
	}

	_, err := s.loggingInterceptor(context.Background(), nil, info, h)
	if !errors.Is(err, want) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if logger.args[0][3] != codes.Unavailable.String() {
		t.Fatalf("expected Unavailable in log, got %v", logger.args[0][3])
	}
}
