// Package main is the entry point of the llmproxy binary. It does
// nothing but hand off to the cmd/llmproxy package, mirroring caddy's
// root main.go / cmd/caddycmd split.
package main

import "github.com/llmproxy/llmproxy/cmd/llmproxy"

func main() {
	llmproxy.Main()
}
