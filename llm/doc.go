// Package llm is the chat-model transport used by the loop. It wraps the
// gollm library (github.com/teilomillet/gollm) behind a provider-agnostic
// ProviderAdapter and routes requests through a Client that applies
// middleware and a retry policy.
//
// # Layers
//
//   - ProviderAdapter and the message/content types shared by every backend
//   - Retry and error classification helpers
//   - Client with provider routing, middleware and retries
//
// # Usage
//
//	adapter, _ := llm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := llm.NewClient(
//	    llm.WithProvider("openai", adapter),
//	    llm.WithMiddleware(llm.LoggingMiddleware(logger)),
//	)
//
//	events, err := client.Stream(ctx, llm.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []llm.Message{llm.UserMessage("hello")},
//	})
//	for ev := range events {
//	    switch ev.Type {
//	    case llm.TextDelta:
//	        fmt.Print(ev.Delta)
//	    case llm.ToolCallEnd:
//	        fmt.Println("tool:", ev.ToolCall.Name)
//	    }
//	}
//
// Every error leaving the Client is a *TransportError wrapping one of the
// provider error types below, so callers can use errors.As at either level.
package llm
