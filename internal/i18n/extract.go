package i18n

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template/parse"
)

// Translation functions recognized in templates.
const (
	FuncGettext  = "gettext"
	FuncUnderbar = "_"
	FuncNgettext = "ngettext"
)

// TemplateExt is the extension of template files scanned for messages.
const TemplateExt = ".html"

// ExtractDir scans every template below dir and returns the messages they
// reference, sorted by id. References are reported relative to dir's parent
// so they read like "templates/report.html:12:8". Templates that do not
// parse are skipped and returned as SourceErrors.
func ExtractDir(dir string) ([]Message, []*SourceError, error) {
	found := make(map[string]*Message)
	var skipped []*SourceError

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != TemplateExt {
			return nil
		}

		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(filepath.Join(filepath.Base(dir), mustRel(dir, path)))
		msgs, err := ExtractTemplate(name, string(src))
		if err != nil {
			skipped = append(skipped, &SourceError{Path: path, Err: err})
			return nil
		}

		for _, m := range msgs {
			merge(found, m)
		}

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extracting messages from %s: %w", dir, err)
	}

	result := make([]Message, 0, len(found))
	for _, m := range found {
		sort.Strings(m.Refs)
		result = append(result, *m)
	}
	sortMessages(result)

	return result, skipped, nil
}

// ExtractTemplate parses one template source and returns the messages
// passed as string literals to the translation functions, in source order.
func ExtractTemplate(name, src string) ([]Message, error) {
	t := parse.New(name)
	t.Mode = parse.SkipFuncCheck

	treeSet := make(map[string]*parse.Tree)
	if _, err := t.Parse(src, "", "", treeSet); err != nil {
		return nil, err
	}

	trees := make([]*parse.Tree, 0, len(treeSet)+1)
	seen := make(map[*parse.Tree]bool)
	for _, tree := range append([]*parse.Tree{t}, mapTrees(treeSet)...) {
		if tree == nil || tree.Root == nil || seen[tree] {
			continue
		}
		seen[tree] = true
		trees = append(trees, tree)
	}

	var msgs []Message
	for _, tree := range trees {
		w := &walker{tree: tree}
		w.walk(tree.Root)
		msgs = append(msgs, w.msgs...)
	}

	return msgs, nil
}

func mapTrees(set map[string]*parse.Tree) []*parse.Tree {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	trees := make([]*parse.Tree, 0, len(set))
	for _, name := range names {
		trees = append(trees, set[name])
	}

	return trees
}

type walker struct {
	tree *parse.Tree
	msgs []Message
}

func (w *walker) walk(node parse.Node) {
	switch n := node.(type) {
	case nil:
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			w.walk(child)
		}
	case *parse.ActionNode:
		w.pipe(n.Pipe)
	case *parse.IfNode:
		w.branch(&n.BranchNode)
	case *parse.RangeNode:
		w.branch(&n.BranchNode)
	case *parse.WithNode:
		w.branch(&n.BranchNode)
	case *parse.TemplateNode:
		w.pipe(n.Pipe)
	}
}

func (w *walker) branch(b *parse.BranchNode) {
	w.pipe(b.Pipe)
	w.walk(b.List)
	w.walk(b.ElseList)
}

func (w *walker) pipe(p *parse.PipeNode) {
	if p == nil {
		return
	}

	for i, cmd := range p.Cmds {
		w.command(cmd)

		// {{ "Hello" | gettext }}
		if i > 0 && len(cmd.Args) == 1 && isGettext(cmd.Args[0]) {
			prev := p.Cmds[i-1]
			if len(prev.Args) == 1 {
				if s, ok := prev.Args[0].(*parse.StringNode); ok {
					w.add(Message{ID: s.Text}, s)
				}
			}
		}
	}
}

func (w *walker) command(cmd *parse.CommandNode) {
	if len(cmd.Args) == 0 {
		return
	}

	if ident, ok := cmd.Args[0].(*parse.IdentifierNode); ok {
		switch {
		case isGettext(ident) && len(cmd.Args) >= 2:
			if s, ok := cmd.Args[1].(*parse.StringNode); ok {
				w.add(Message{ID: s.Text}, s)
			}
		case ident.Ident == FuncNgettext && len(cmd.Args) >= 3:
			singular, ok1 := cmd.Args[1].(*parse.StringNode)
			plural, ok2 := cmd.Args[2].(*parse.StringNode)
			if ok1 && ok2 {
				w.add(Message{ID: singular.Text, Plural: plural.Text}, singular)
			}
		}
	}

	for _, arg := range cmd.Args {
		if p, ok := arg.(*parse.PipeNode); ok {
			w.pipe(p)
		}
	}
}

func (w *walker) add(m Message, at parse.Node) {
	if m.ID == "" {
		return
	}
	location, _ := w.tree.ErrorContext(at)
	if location != "" {
		m.Refs = []string{location}
	}
	w.msgs = append(w.msgs, m)
}

func isGettext(node parse.Node) bool {
	ident, ok := node.(*parse.IdentifierNode)
	return ok && (ident.Ident == FuncGettext || ident.Ident == FuncUnderbar)
}

// merge folds m into found, accumulating references.
func merge(found map[string]*Message, m Message) {
	existing, ok := found[m.ID]
	if !ok {
		copied := m
		copied.Refs = append([]string(nil), m.Refs...)
		found[m.ID] = &copied
		return
	}

	if existing.Plural == "" {
		existing.Plural = m.Plural
	}
	for _, ref := range m.Refs {
		if !contains(existing.Refs, ref) {
			existing.Refs = append(existing.Refs, ref)
		}
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}

func mustRel(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.Base(path)
	}

	return strings.TrimPrefix(rel, "./")
}
