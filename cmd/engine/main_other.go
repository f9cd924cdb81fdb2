//go:build !wasip1

// Command engine is the WebAssembly inference engine. It only runs as a
// wasip1 reactor module:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o engine.wasm ./cmd/engine
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "engine: build with GOOS=wasip1 GOARCH=wasm -buildmode=c-shared and load it through the server")
	os.Exit(2)
}
