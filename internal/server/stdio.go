package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/pkg/protocol"
)

// maxLineSize bounds one stdio request line.
const maxLineSize = 16 << 20

// ServeLines reads one protocol.Request per line from r and writes one
// protocol.Response per line to w, in order. It returns when r is exhausted
// or ctx is canceled.
func (s *Server) ServeLines(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := enc.Encode(s.dispatch(ctx, line)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, line []byte) protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return protocol.Response{Error: fmt.Sprintf("invalid request: %v", err)}
	}

	result, err := s.call(ctx, req)
	if err != nil {
		s.logger.Debug("Stdio request failed",
			zap.Int64("id", req.ID),
			zap.String("method", req.Method),
			zap.Error(err),
		)
		return protocol.Response{ID: req.ID, Error: err.Error()}
	}
	return protocol.Response{ID: req.ID, Result: result}
}

func (s *Server) call(ctx context.Context, req protocol.Request) (any, error) {
	switch req.Method {
	case protocol.MethodVersion:
		return s.versionInfo(), nil
	case protocol.MethodListModels:
		return s.listModels(), nil
	case protocol.MethodShowModel:
		var params protocol.ShowRequest
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.showModel(params.Name)
	case protocol.MethodInfer:
		var params protocol.InferRequest
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.infer(ctx, params)
	case protocol.MethodInferBatch:
		var params protocol.BatchRequest
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.inferBatch(ctx, params)
	default:
		return nil, &requestError{msg: fmt.Sprintf("unknown method '%s'", req.Method)}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &requestError{msg: "params are required"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &requestError{msg: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
