package protocol

// Request and response types shared by the HTTP API and the JSON-lines
// stdio transport of the inference server.

import (
	"encoding/json"
	"time"
)

// VersionResponse is returned by GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// ModelInfo describes one loaded bundle.
type ModelInfo struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Family       string    `json:"family,omitempty"`
	Description  string    `json:"description,omitempty"`
	Tensors      uint32    `json:"tensors"`
	WeightsBytes int       `json:"weights_bytes"`
	EOS          uint32    `json:"eos_token"`
	MaxNewTokens uint32    `json:"max_new_tokens"`
	Capacity     int       `json:"default_capacity,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// ListModelsResponse is returned by GET /api/models.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ShowRequest names a model for the stdio "show" method.
type ShowRequest struct {
	Name string `json:"name"`
}

// InferRequest runs one token sequence through a model. A zero capacity
// uses the model's default.
type InferRequest struct {
	Model    string   `json:"model"`
	Tokens   []uint32 `json:"tokens"`
	Capacity int      `json:"capacity,omitempty"`
}

// EngineError is a status code reported by the engine for one request.
type EngineError struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
}

// InferResponse carries the tokens the engine wrote. When Error is set,
// Tokens is the prefix written before the engine stopped.
type InferResponse struct {
	Model  string       `json:"model"`
	Tokens []uint32     `json:"tokens"`
	Error  *EngineError `json:"error,omitempty"`
}

// BatchRequest runs several token sequences through the same model.
type BatchRequest struct {
	Model    string     `json:"model"`
	Requests [][]uint32 `json:"requests"`
	Capacity int        `json:"capacity,omitempty"`
}

// BatchResponse holds one result per request, in request order.
type BatchResponse struct {
	Model   string          `json:"model"`
	Results []InferResponse `json:"results"`
}

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Stdio methods.
const (
	MethodVersion    = "version"
	MethodListModels = "models"
	MethodShowModel  = "show"
	MethodInfer      = "infer"
	MethodInferBatch = "infer_batch"
)

// Request is one line read by the stdio transport.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line written by the stdio transport. Exactly one of
// Result and Error is set.
type Response struct {
	ID     int64  `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
