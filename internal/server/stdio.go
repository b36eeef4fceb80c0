package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// ServeStdio serves the MCP protocol on in and out until ctx is done or
// in reaches EOF.
//
// Lines pass through to mcp-go's stdio server, except tools/call messages
// for tools it does not know, which the façade answers directly.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &lockedWriter{w: out}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.filterInput(ctx, in, pw, w))
	}()

	stdio := server.NewStdioServer(s.MCPServer)
	stdio.SetErrorLogger(zap.NewStdLog(logger.Named("stdio")))
	err := stdio.Listen(ctx, pr, w)
	_ = pr.Close()
	return err
}

// filterInput copies in to next line by line, answering unrouted tool
// calls on out instead.
func (s *Server) filterInput(ctx context.Context, in io.Reader, next io.Writer, out io.Writer) error {
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if resp, ok := s.facade.unroutedCall(ctx, line); ok {
				b, merr := json.Marshal(resp)
				if merr != nil {
					return merr
				}
				if _, werr := out.Write(append(b, '\n')); werr != nil {
					return werr
				}
			} else if _, werr := next.Write(line); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// lockedWriter keeps replies written from both paths whole. mcp-go writes
// each message with a single Write.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
