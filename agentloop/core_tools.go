package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/martinemde/ralphloop/llm"
	"github.com/martinemde/ralphloop/workspace"
)

const (
	defaultReadMaxChars = 20000
	minReadMaxChars     = 200

	defaultMaxResults = 50
	maxMaxResults     = 200

	searchCandidateLimit = 2000
	searchMaxFiles       = 200
	searchMaxFileChars   = 200000
	searchMaxLineChars   = 300

	maxDiagnosticItems = 200
)

var lineBreak = regexp.MustCompile(`\r?\n`)

// WorkspaceTools are the collaborators behind the file, search and
// diagnostics tools.
type WorkspaceTools struct {
	FS          workspace.FileSystem
	Search      workspace.FileSearch
	Diagnostics workspace.Diagnostics
}

// RegisterWorkspaceTools registers read_file, write_file, list_files,
// search and get_diagnostics.
func RegisterWorkspaceTools(reg *ToolRegistry, w WorkspaceTools) {
	registerReadFile(reg, w.FS)
	registerWriteFile(reg, w.FS)
	registerListFiles(reg, w.Search)
	registerSearch(reg, w.FS, w.Search)
	registerGetDiagnostics(reg, w.Diagnostics)
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func registerReadFile(reg *ToolRegistry, fs workspace.FileSystem) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "read_file",
			Description: "Read a workspace file. Input: {path, startLine?, endLine?, maxChars?}",
			Parameters: objectSchema(map[string]interface{}{
				"path":      prop("string", "Workspace-relative path."),
				"startLine": prop("number", "1-based first line to return."),
				"endLine":   prop("number", "1-based last line to return (inclusive)."),
				"maxChars":  prop("number", "Maximum characters to return. Default: 20000, minimum 200."),
			}, "path"),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			raw, _ := GetStringArg(args, "path")
			path, err := workspace.SanitizeRelativePath(raw)
			if err != nil {
				return Failure("invalid path"), nil
			}
			data, err := fs.Read(path)
			if err != nil {
				return ToolResult{}, err
			}
			text := string(data)

			start := 1
			if n, ok := GetIntArg(args, "startLine"); ok {
				start = max(1, n)
			}
			end, hasEnd := GetIntArg(args, "endLine")
			if hasEnd {
				end = max(start, end)
			}
			if start != 1 || hasEnd {
				lines := lineBreak.Split(text, -1)
				from := min(start-1, len(lines))
				to := len(lines)
				if hasEnd {
					to = min(end, len(lines))
				}
				text = strings.Join(lines[from:to], "\n")
			}

			maxChars := defaultReadMaxChars
			if n, ok := GetIntArg(args, "maxChars"); ok {
				maxChars = max(minReadMaxChars, n)
			}
			text = TruncateOutput(text, maxChars, TruncateHead)

			return Success(map[string]interface{}{"path": path, "content": text}), nil
		},
	})
}

func registerWriteFile(reg *ToolRegistry, fs workspace.FileSystem) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "write_file",
			Description: "Write a workspace file, replacing its content. Parent directories are created. Input: {path, content}",
			Parameters: objectSchema(map[string]interface{}{
				"path":    prop("string", "Workspace-relative path."),
				"content": prop("string", "The full file content."),
			}, "path", "content"),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			raw, _ := GetStringArg(args, "path")
			path, err := workspace.SanitizeRelativePath(raw)
			if err != nil {
				return Failure("invalid path"), nil
			}
			content, _ := GetStringArg(args, "content")
			if err := fs.Write(path, []byte(content)); err != nil {
				return ToolResult{}, err
			}
			return Success(map[string]interface{}{"path": path, "bytes": len(content)}), nil
		},
	})
}

func maxResultsArg(args map[string]interface{}) int {
	if n, ok := GetIntArg(args, "maxResults"); ok {
		return clampInt(n, 1, maxMaxResults)
	}
	return defaultMaxResults
}

func registerListFiles(reg *ToolRegistry, search workspace.FileSearch) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "list_files",
			Description: "List workspace files matching a glob. Input: {glob, maxResults?}",
			Parameters: objectSchema(map[string]interface{}{
				"glob":       prop("string", "Glob such as src/**/*.go."),
				"maxResults": prop("number", "1-200. Default: 50."),
			}, "glob"),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			glob, _ := GetStringArg(args, "glob")
			if strings.TrimSpace(glob) == "" {
				glob = "**/*"
			}
			files, err := search.Find(ctx, glob, workspace.DefaultExclude, maxResultsArg(args))
			if err != nil {
				return ToolResult{}, err
			}
			if files == nil {
				files = []string{}
			}
			return Success(map[string]interface{}{"glob": glob, "files": files}), nil
		},
	})
}

type searchHit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func registerSearch(reg *ToolRegistry, fs workspace.FileSystem, search workspace.FileSearch) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "search",
			Description: "Search workspace text line by line. Input: {query, isRegex?, maxResults?, includePattern?}",
			Parameters: objectSchema(map[string]interface{}{
				"query":          prop("string", "Text or regular expression."),
				"isRegex":        prop("boolean", "Treat query as a regular expression."),
				"maxResults":     prop("number", "1-200. Default: 50."),
				"includePattern": prop("string", "Glob restricting which files are searched."),
			}, "query"),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			query, _ := GetStringArg(args, "query")
			query = strings.TrimSpace(query)
			if query == "" {
				return Failure("empty query"), nil
			}
			isRegex, _ := GetBoolArg(args, "isRegex")
			maxResults := maxResultsArg(args)
			include, _ := GetStringArg(args, "includePattern")
			include = strings.TrimSpace(include)
			if include == "" {
				include = "**/*"
			}

			match := func(line string) bool { return strings.Contains(line, query) }
			if isRegex {
				re, err := regexp.Compile(query)
				if err != nil {
					return ToolResult{}, fmt.Errorf("invalid regular expression: %w", err)
				}
				match = re.MatchString
			}

			paths, err := search.Find(ctx, include, workspace.DefaultExclude, searchCandidateLimit)
			if err != nil {
				return ToolResult{}, err
			}
			if len(paths) > searchMaxFiles {
				paths = paths[:searchMaxFiles]
			}

			results := []searchHit{}
		scan:
			for _, p := range paths {
				if err := ctx.Err(); err != nil {
					return ToolResult{}, err
				}
				data, err := fs.Read(p)
				if err != nil {
					continue
				}
				text := string(data)
				if utf8.RuneCountInString(text) > searchMaxFileChars {
					text = string([]rune(text)[:searchMaxFileChars])
				}
				for i, line := range lineBreak.Split(text, -1) {
					if len(results) >= maxResults {
						break scan
					}
					if match(line) {
						results = append(results, searchHit{Path: p, Line: i + 1, Text: truncateLine(line, searchMaxLineChars)})
					}
				}
			}

			return Success(map[string]interface{}{
				"query":          query,
				"isRegex":        isRegex,
				"includePattern": include,
				"scannedFiles":   len(paths),
				"results":        results,
			}), nil
		},
	})
}

type diagnosticItem struct {
	Path     string `json:"path"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Range    string `json:"range"`
	Source   string `json:"source,omitempty"`
	Code     string `json:"code,omitempty"`
}

func registerGetDiagnostics(reg *ToolRegistry, diags workspace.Diagnostics) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "get_diagnostics",
			Description: "List compiler and linter diagnostics (errors and warnings). Input: {path?}",
			Parameters: objectSchema(map[string]interface{}{
				"path": prop("string", "Restrict to one workspace-relative file."),
			}),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			only := ""
			if raw, ok := GetStringArg(args, "path"); ok && strings.TrimSpace(raw) != "" {
				only, err = workspace.SanitizeRelativePath(raw)
				if err != nil {
					return Failure("invalid path"), nil
				}
			}

			all, err := diags.GetAll(ctx)
			if err != nil {
				return ToolResult{}, err
			}
			items := []diagnosticItem{}
			for _, f := range all {
				if only != "" && f.Path != only {
					continue
				}
				for _, d := range f.Items {
					items = append(items, diagnosticItem{
						Path:     f.Path,
						Severity: d.Severity.String(),
						Message:  d.Message,
						Range:    d.Range.String(),
						Source:   d.Source,
						Code:     d.Code,
					})
				}
			}
			count := len(items)
			if count > maxDiagnosticItems {
				items = items[:maxDiagnosticItems]
			}
			return Success(map[string]interface{}{"count": count, "items": items}), nil
		},
	})
}
