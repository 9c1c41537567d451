// Package agentloop runs a bounded tool-calling conversation with a chat
// model.
//
// A Session streams a reply, dispatches any tool calls the model makes
// against a ToolRegistry, feeds the results back, and repeats until the
// model answers without calling a tool or the round budget runs out. The
// accumulated text of every round is returned.
//
// RegisterWorkspaceTools and RegisterLoopTools install the tools the loop
// controller exposes to the model: file access, search, diagnostics, named
// task runs and verification.
//
//	reg := agentloop.NewToolRegistry()
//	agentloop.RegisterWorkspaceTools(reg, agentloop.WorkspaceTools{FS: fs, Search: search, Diagnostics: diags})
//	session := agentloop.NewSession(client, "gpt-4o", reg)
//	text, err := session.Run(ctx, []llm.Message{llm.UserMessage("Create hello.go")})
package agentloop
