// Command sqllint fails when a SQL string constant lacks the "--sql <uuid>"
// marker SQLRunner requires, or when two queries share a marker.
//
//	go run ./internal/tools/sqllint ./internal/sqlinline
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	markerLine = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type finding struct {
	file string
	line int
	name string
	msg  string
}

func (f finding) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", f.file, f.line, f.msg, f.name)
}

type query struct {
	file string
	line int
	name string
	sql  string
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}
	os.Exit(run(targets, os.Stderr))
}

func run(targets []string, out io.Writer) int {
	findings, err := lint(targets)
	if err != nil {
		fmt.Fprintf(out, "sqllint: %v\n", err)
		return 1
	}
	if len(findings) == 0 {
		return 0
	}
	fmt.Fprintln(out, "sqllint: SQL audit marker problems")
	for _, f := range findings {
		fmt.Fprintf(out, "  %s\n", f)
	}
	return 1
}

func lint(targets []string) ([]finding, error) {
	var queries []query
	for _, target := range targets {
		found, err := collect(target)
		if err != nil {
			return nil, err
		}
		queries = append(queries, found...)
	}

	var findings []finding
	seen := map[string]query{}
	for _, q := range queries {
		m := markerLine.FindStringSubmatch(firstLine(q.sql))
		if m == nil {
			findings = append(findings, finding{q.file, q.line, q.name, "missing or invalid --sql <uuid> marker"})
			continue
		}
		if prev, dup := seen[m[1]]; dup {
			findings = append(findings, finding{q.file, q.line, q.name, "marker already used by " + prev.name})
			continue
		}
		seen[m[1]] = q
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].file != findings[j].file {
			return findings[i].file < findings[j].file
		}
		return findings[i].line < findings[j].line
	})
	return findings, nil
}

func collect(target string) ([]query, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil, nil
		}
		return parseFile(target)
	}
	var out []query
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := parseFile(path)
		if err != nil {
			return err
		}
		out = append(out, found...)
		return nil
	})
	return out, err
}

// parseFile returns string constants and variables that look like SQL.
func parseFile(path string) ([]query, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, err
	}
	var out []query
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := unquote(lit.Value)
			if err != nil || !sqlKeyword.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(spec.Names) {
				name = spec.Names[i].Name
			}
			out = append(out, query{file: path, line: fset.Position(lit.Pos()).Line, name: name, sql: raw})
		}
		return true
	})
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}
