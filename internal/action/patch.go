package action

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/afero"
)

const devNull = "/dev/null"

// ChangedFile is one file produced by applying a patch.
type ChangedFile struct {
	Path    string
	Content []byte
	Deleted bool
}

// PatchError reports a patch that could not be applied. Nothing has been
// written when it is returned.
type PatchError struct {
	File string
	Line int
	Msg  string
}

func (e *PatchError) Error() string {
	if e.File == "" {
		return "patch: " + e.Msg
	}
	if e.Line > 0 {
		return fmt.Sprintf("patch %s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("patch %s: %s", e.File, e.Msg)
}

// PatchApplier applies unified diffs to working trees rooted at
// <root>/<owner>/<repo>.
type PatchApplier struct {
	fs   afero.Fs
	root string
}

func NewPatchApplier(fs afero.Fs, root string) *PatchApplier {
	return &PatchApplier{fs: fs, root: root}
}

// Apply parses patch and applies every hunk. All files are computed in
// memory and context lines verified before anything is written, so a
// mismatch anywhere leaves the tree untouched.
func (p *PatchApplier) Apply(owner, repo, patch string) ([]ChangedFile, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, &PatchError{Msg: fmt.Sprintf("parse: %v", err)}
	}
	if len(fileDiffs) == 0 {
		return nil, &PatchError{Msg: "no file diffs found"}
	}

	for _, seg := range []string{owner, repo} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return nil, &PatchError{Msg: fmt.Sprintf("invalid repository segment %q", seg)}
		}
	}
	tree := filepath.Join(p.root, owner, repo)
	changed := make([]ChangedFile, 0, len(fileDiffs))

	for _, fd := range fileDiffs {
		origName := stripDiffPrefix(fd.OrigName)
		newName := stripDiffPrefix(fd.NewName)

		name := newName
		if newName == devNull {
			name = origName
		}
		rel, err := safeRelPath(name)
		if err != nil {
			return nil, &PatchError{File: name, Msg: err.Error()}
		}

		var original []byte
		if origName != devNull {
			original, err = afero.ReadFile(p.fs, filepath.Join(tree, rel))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, &PatchError{File: rel, Msg: "file does not exist"}
				}
				return nil, &PatchError{File: rel, Msg: err.Error()}
			}
		}

		if newName == devNull {
			changed = append(changed, ChangedFile{Path: rel, Deleted: true})
			continue
		}

		content, err := applyHunks(rel, original, origName == devNull, fd.Hunks)
		if err != nil {
			return nil, err
		}
		changed = append(changed, ChangedFile{Path: rel, Content: content})
	}

	for _, c := range changed {
		full := filepath.Join(tree, c.Path)
		if c.Deleted {
			if err := p.fs.Remove(full); err != nil {
				return nil, fmt.Errorf("removing %s: %w", c.Path, err)
			}
			continue
		}
		if err := p.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", c.Path, err)
		}
		if err := afero.WriteFile(p.fs, full, c.Content, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", c.Path, err)
		}
	}

	return changed, nil
}

func stripDiffPrefix(name string) string {
	if name == devNull {
		return name
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

func safeRelPath(name string) (string, error) {
	cleaned := path.Clean(strings.TrimSpace(name))
	switch {
	case cleaned == "." || cleaned == "":
		return "", errors.New("empty file name")
	case path.IsAbs(cleaned), cleaned == "..", strings.HasPrefix(cleaned, "../"):
		return "", errors.New("path escapes the working tree")
	}
	return cleaned, nil
}

func splitLines(b []byte) ([]string, bool) {
	if len(b) == 0 {
		return nil, false
	}
	s := string(b)
	trailing := strings.HasSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n"), trailing
}

func applyHunks(file string, original []byte, isNew bool, hunks []*diff.Hunk) ([]byte, error) {
	lines, trailingNewline := splitLines(original)
	if isNew {
		trailingNewline = true
	}

	out := make([]string, 0, len(lines))
	cursor := 0

	for _, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertion: the start line is the one the text follows.
			start = int(h.OrigStartLine)
		}
		if start < cursor || start > len(lines) {
			return nil, &PatchError{File: file, Line: int(h.OrigStartLine), Msg: "hunk out of range"}
		}
		out = append(out, lines[cursor:start]...)
		pos := start

		body := strings.TrimSuffix(string(h.Body), "\n")
		if len(h.Body) == 0 {
			cursor = pos
			continue
		}
		for _, bl := range strings.Split(body, "\n") {
			op, text := byte(' '), ""
			if len(bl) > 0 {
				op, text = bl[0], bl[1:]
			}
			switch op {
			case ' ', '-':
				if pos >= len(lines) || lines[pos] != text {
					return nil, &PatchError{File: file, Line: pos + 1, Msg: "context does not match"}
				}
				if op == ' ' {
					out = append(out, text)
				}
				pos++
			case '+':
				out = append(out, text)
			default:
				return nil, &PatchError{File: file, Line: pos + 1, Msg: fmt.Sprintf("unexpected hunk line %q", bl)}
			}
		}
		cursor = pos
		// go-diff drops the "\ No newline at end of file" marker and trims the
		// newline from a body whose new side ends without one.
		if pos == len(lines) {
			trailingNewline = strings.HasSuffix(string(h.Body), "\n")
		}
	}
	out = append(out, lines[cursor:]...)

	if len(out) == 0 {
		return []byte{}, nil
	}
	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return []byte(result), nil
}
