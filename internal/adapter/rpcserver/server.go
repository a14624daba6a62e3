package rpcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

// HandlerFunc serves one method. params is always a JSON object.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server dispatches request lines to registered handlers.
type Server struct {
	handlers     map[string]HandlerFunc
	logger       *slog.Logger
	maxLineBytes int
}

// Option configures a Server.
type Option func(*Server)

// WithMaxLineBytes rejects request lines longer than n bytes with a parse
// error. Zero or negative means unlimited.
func WithMaxLineBytes(n int) Option {
	return func(s *Server) { s.maxLineBytes = n }
}

// New constructs a Server. A nil logger uses slog.Default.
func New(logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{handlers: map[string]HandlerFunc{}, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds method to h, replacing any previous handler.
func (s *Server) Register(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// Serve reads requests from r until end of stream and writes one response
// line per request to w, flushing after each. It returns nil on EOF and the
// context error when ctx is canceled between requests.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			resp := s.handleLine(ctx, trimmed)
			if err := writeResponse(bw, resp); err != nil {
				return fmt.Errorf("op=rpcserver.Serve: write: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("op=rpcserver.Serve: read: %w", readErr)
		}
	}
}

func writeResponse(bw *bufio.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "Internal error: response is not serializable"))
	}
	b = append(b, '\n')
	if _, err := bw.Write(b); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	start := time.Now()
	if s.maxLineBytes > 0 && len(line) > s.maxLineBytes {
		observability.ObserveRPC("invalid", strconv.Itoa(CodeParseError), time.Since(start))
		return errorResponse(recoverID(line), CodeParseError,
			fmt.Sprintf("Parse error: request exceeds %d bytes", s.maxLineBytes))
	}

	req, err := decodeRequest(line)
	if err != nil {
		s.logger.Warn("unparseable request line", slog.Any("error", err), slog.Int("bytes", len(line)))
		observability.ObserveRPC("invalid", strconv.Itoa(CodeParseError), time.Since(start))
		return errorResponse(req.ID, CodeParseError, "Parse error: "+err.Error())
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		s.logger.Warn("unknown method", slog.String("method", req.Method))
		observability.ObserveRPC("unknown", strconv.Itoa(CodeMethodNotFound), time.Since(start))
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}

	reqID := newReqID()
	lg := s.logger.With(slog.String("request_id", reqID), slog.String("method", req.Method))
	ctx = observability.ContextWithRequestID(ctx, reqID)
	ctx = observability.ContextWithLogger(ctx, lg)
	ctx, span := observability.StartSpan(ctx, "rpc "+req.Method,
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
		attribute.String("request_id", reqID))
	defer span.End()

	result, err := s.invoke(ctx, h, req.Params)
	dur := time.Since(start)
	if err != nil {
		code, msg := classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", code))
		lg.Error("request failed", slog.Int("code", code), slog.Any("error", err), slog.Duration("duration", dur))
		observability.ObserveRPC(req.Method, strconv.Itoa(code), dur)
		return errorResponse(req.ID, code, msg)
	}

	if result == nil {
		result = struct{}{}
	}
	lg.Info("request served", slog.Duration("duration", dur))
	observability.ObserveRPC(req.Method, "ok", dur)
	return Response{ID: req.ID, Result: result}
}

// invoke runs h and converts a panic into an internal error.
func (s *Server) invoke(ctx context.Context, h HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.LoggerFromContext(ctx).Error("handler panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			result, err = nil, fmt.Errorf("%w: panic: %v", domain.ErrInternal, rec)
		}
	}()
	return h(ctx, params)
}

func classify(err error) (int, string) {
	if errors.Is(err, domain.ErrInvalidArgument) {
		return CodeInvalidParams, "Invalid params: " + err.Error()
	}
	return CodeInternalError, "Internal error: " + err.Error()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // Weak random is sufficient for ULID entropy.
)

func newReqID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return id.String()
}
