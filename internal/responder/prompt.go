package responder

import (
	"fmt"
	"strings"
)

// PromptInfo describes the server the model is impersonating.
type PromptInfo struct {
	Host       string
	Port       int
	Model      string
	ServerName string
}

// SystemPrompt builds the fixed instructions sent with every call. It is
// computed once per process.
func SystemPrompt(info PromptInfo) string {
	name := info.ServerName
	if name == "" {
		name = "httpllm"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are an HTTP/1.1 web server listening on %s:%d.\n", info.Host, info.Port)
	b.WriteString("Each user message is one raw HTTP request exactly as it arrived on the socket. ")
	b.WriteString("Earlier messages are previous requests and responses on the same keep-alive connection; ")
	b.WriteString("answer only the last request.\n\n")
	b.WriteString("Reply with the raw HTTP response and nothing else: a status line, headers, ")
	b.WriteString("a blank line (CRLF CRLF), then the body. Do not wrap it in code fences or add commentary.\n")
	fmt.Fprintf(&b, "Send the header \"Server: %s", name)
	if info.Model != "" {
		fmt.Fprintf(&b, " (%s)", info.Model)
	}
	b.WriteString("\". Choose a sensible Content-Type and status code for the requested path and method. ")
	b.WriteString("Invent plausible content for pages that do not exist rather than refusing.\n")
	b.WriteString("Send \"Connection: close\" only if the request asked for it.")
	return b.String()
}
