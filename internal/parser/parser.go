// Package parser turns source files into docling layout trees.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Parser converts a file on disk into a layout tree.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
}

// Func adapts a function to Parser.
type Func func(ctx context.Context, path string) (*Document, error)

func (f Func) Parse(ctx context.Context, path string) (*Document, error) { return f(ctx, path) }

// ParseError carries the parser's diagnostics when it fails.
type ParseError struct {
	Path     string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s", filepath.Base(e.Path))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := lastLines(e.Stderr, 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

// DoclingCLI runs the docling command line tool and decodes its JSON export.
type DoclingCLI struct {
	Command   string // default "docling"
	OCR       bool
	ExtraArgs []string
	Logger    *slog.Logger
}

// NewDoclingCLI returns a parser invoking command (or "docling" when empty).
func NewDoclingCLI(command string, ocr bool, logger *slog.Logger) *DoclingCLI {
	if command == "" {
		command = "docling"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DoclingCLI{Command: command, OCR: ocr, Logger: logger}
}

// Available reports whether the command can be found on PATH.
func (p *DoclingCLI) Available() error {
	_, err := exec.LookPath(p.command())
	return err
}

func (p *DoclingCLI) command() string {
	if p.Command == "" {
		return "docling"
	}
	return p.Command
}

func (p *DoclingCLI) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *DoclingCLI) Parse(ctx context.Context, path string) (*Document, error) {
	outDir, err := os.MkdirTemp("", "docling-out-*")
	if err != nil {
		return nil, fmt.Errorf("docling output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{path, "--output", outDir}
	if p.OCR {
		args = append(args, "--ocr")
	}
	args = append(args, "--to", "json")
	args = append(args, p.ExtraArgs...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger().DebugContext(ctx, "running docling", "command", p.command(), "args", args)
	if err := cmd.Run(); err != nil {
		perr := &ParseError{Path: path, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			perr.ExitCode = exitErr.ExitCode()
		}
		return nil, perr
	}

	jsonPath, err := findJSON(outDir, path)
	if err != nil {
		return nil, &ParseError{Path: path, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, &ParseError{Path: path, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	doc.SourcePath = path
	return doc, nil
}

// findJSON prefers <stem>.json and otherwise takes the first *.json file.
func findJSON(dir, source string) (string, error) {
	want := filepath.Join(dir, stem(source)+".json")
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errors.New("docling produced no json output")
	}
	return matches[0], nil
}

// JSONFile reads an existing docling JSON export instead of running docling.
type JSONFile struct{}

func (JSONFile) Parse(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	doc.SourcePath = path
	return doc, nil
}
