package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/woxQAQ/wasmllm/internal/bundle"
	"github.com/woxQAQ/wasmllm/internal/wasm"
	"github.com/woxQAQ/wasmllm/pkg/protocol"
)

// requestError is a client mistake that never reached the engine.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	var (
		notFound *bundle.BundleNotFoundError
		capErr   *bundle.CapacityError
		reqErr   *requestError
		timeout  *wasm.TimeoutError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &capErr), errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) versionInfo() protocol.VersionResponse {
	return protocol.VersionResponse{Version: s.version}
}

func (s *Server) listModels() protocol.ListModelsResponse {
	bundles := s.backend.List()
	models := make([]protocol.ModelInfo, 0, len(bundles))
	for _, b := range bundles {
		models = append(models, modelInfo(b))
	}
	return protocol.ListModelsResponse{Models: models}
}

func (s *Server) showModel(name string) (protocol.ModelInfo, error) {
	b, err := s.backend.GetBundle(name)
	if err != nil {
		return protocol.ModelInfo{}, err
	}
	return modelInfo(b), nil
}

func (s *Server) infer(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
	if req.Model == "" {
		return protocol.InferResponse{}, &requestError{msg: "model is required"}
	}
	if req.Capacity < 0 {
		return protocol.InferResponse{}, &requestError{msg: "capacity must not be negative"}
	}

	name, err := s.resolve(req.Model)
	if err != nil {
		return protocol.InferResponse{}, err
	}
	res, err := s.backend.Infer(ctx, name, req.Tokens, req.Capacity)
	if err != nil {
		return protocol.InferResponse{}, err
	}
	return inferResponse(name, res), nil
}

func (s *Server) inferBatch(ctx context.Context, req protocol.BatchRequest) (protocol.BatchResponse, error) {
	if req.Model == "" {
		return protocol.BatchResponse{}, &requestError{msg: "model is required"}
	}
	if len(req.Requests) == 0 {
		return protocol.BatchResponse{}, &requestError{msg: "requests must not be empty"}
	}
	if req.Capacity < 0 {
		return protocol.BatchResponse{}, &requestError{msg: "capacity must not be negative"}
	}

	name, err := s.resolve(req.Model)
	if err != nil {
		return protocol.BatchResponse{}, err
	}
	results, err := s.backend.InferBatch(ctx, name, req.Requests, req.Capacity)
	if err != nil {
		return protocol.BatchResponse{}, err
	}
	resp := protocol.BatchResponse{
		Model:   name,
		Results: make([]protocol.InferResponse, len(results)),
	}
	for i, res := range results {
		resp.Results[i] = inferResponse(name, res)
	}
	return resp, nil
}

// resolve maps a request's model field to a bundle name. A model that names
// no bundle is tried as a family.
func (s *Server) resolve(model string) (string, error) {
	b, err := s.backend.GetBundle(model)
	if err == nil {
		return b.Name(), nil
	}
	if fam, famErr := s.backend.FindBundleForFamily(model); famErr == nil {
		return fam.Name(), nil
	}
	return "", err
}

func modelInfo(b *bundle.Bundle) protocol.ModelInfo {
	return protocol.ModelInfo{
		Name:         b.Name(),
		Version:      b.Version(),
		Family:       b.Family(),
		Description:  b.Manifest.Description,
		Tensors:      b.Header.TensorCount,
		WeightsBytes: len(b.Weights),
		EOS:          b.Header.EOS,
		MaxNewTokens: b.Header.MaxNewTokens,
		Capacity:     b.Manifest.Defaults.Capacity,
		LoadedAt:     b.LoadedAt,
	}
}

func inferResponse(model string, res bundle.Result) protocol.InferResponse {
	tokens := res.Tokens
	if tokens == nil {
		tokens = []uint32{}
	}
	resp := protocol.InferResponse{Model: model, Tokens: tokens}
	if res.Err != nil {
		resp.Error = &protocol.EngineError{
			Code: uint32(res.Err.Code),
			Name: res.Err.Code.String(),
		}
	}
	return resp
}
