// Package workspace holds the collaborators the loop uses to touch the
// project it is working on: a rooted file system, glob search, a
// diagnostics source and a yes/no human prompt. Every path crossing these
// interfaces is workspace-relative and passes SanitizeRelativePath first.
package workspace
