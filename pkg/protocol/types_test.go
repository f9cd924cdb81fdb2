package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInferResponse_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(InferResponse{Model: "toy", Tokens: []uint32{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"model":"toy","tokens":[1,2]}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	data, err = json.Marshal(InferResponse{
		Model:  "toy",
		Tokens: []uint32{},
		Error:  &EngineError{Code: 6, Name: "TokenOutOfRange"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"model":"toy","tokens":[],"error":{"code":6,"name":"TokenOutOfRange"}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRequest_DecodeParams(t *testing.T) {
	line := `{"id":7,"method":"infer","params":{"model":"toy","tokens":[3,1],"capacity":4}}`

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		t.Fatal(err)
	}
	if req.ID != 7 || req.Method != MethodInfer {
		t.Fatalf("unexpected envelope: %+v", req)
	}

	var params InferRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatal(err)
	}
	want := InferRequest{Model: "toy", Tokens: []uint32{3, 1}, Capacity: 4}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestResponse_ErrorOnly(t *testing.T) {
	data, err := json.Marshal(Response{ID: 1, Error: "unknown method"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"id":1,"error":"unknown method"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
