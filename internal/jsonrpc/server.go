// Package jsonrpc implements the framed stdio loop: newline-delimited
// JSON-RPC 2.0 requests in, one response line per request out. The loop only
// knows two methods, tools/list and tools/call; everything else is delegated
// to the dispatcher.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/mcperr"
)

// ErrIO marks an unrecoverable read/write failure on the primary channel.
// main maps it to exit code 2.
var ErrIO = errors.New("primary channel I/O error")

// Dispatcher is the tool registry seen from the wire.
type Dispatcher interface {
	// Schemas returns the tool catalog in registration order.
	Schemas() []mcp.Tool
	// Call runs a tool and returns its pretty-printed JSON result.
	Call(ctx context.Context, name string, args map[string]any) (string, *mcperr.Error)
}

type request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  *json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  any              `json:"result,omitempty"`
	Error   *errorObject     `json:"error,omitempty"`
}

type errorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Server drives the framed loop over one reader/writer pair.
type Server struct {
	dispatch Dispatcher
	log      *slog.Logger

	writeMu  sync.Mutex
	writeErr error
}

// NewServer creates a Server around the given dispatcher.
func NewServer(dispatch Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{dispatch: dispatch, log: log}
}

// Serve reads requests from r until EOF and writes responses to w. Requests
// are read strictly in arrival order; each one is handled on its own
// goroutine so a slow tool never blocks the loop. A nil return means clean
// EOF; ErrIO wraps unrecoverable channel failures.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		var req request
		if uerr := json.Unmarshal([]byte(line), &req); uerr != nil {
			s.writeError(w, nil, mcperr.Newf(mcperr.ParseError, "Parse error: %v", uerr))
		} else {
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.handle(ctx, w, &req)
			}()
		}

		if err != nil { // EOF after a final unterminated line
			if errors.Is(err, io.EOF) {
				inflight.Wait()
				return nil
			}
			return fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if werr := s.takeWriteErr(); werr != nil {
			return werr
		}
	}
}

func (s *Server) handle(ctx context.Context, w io.Writer, req *request) {
	switch req.Method {
	case "tools/list":
		s.writeResult(w, req.ID, map[string]any{"tools": s.dispatch.Schemas()})

	case "tools/call":
		name, args, err := decodeCallParams(req.Params)
		if err != nil {
			s.writeError(w, req.ID, err)
			return
		}
		text, callErr := s.dispatch.Call(ctx, name, args)
		if callErr != nil {
			s.writeError(w, req.ID, callErr)
			return
		}
		s.writeResult(w, req.ID, mcp.NewToolResultText(text))

	default:
		s.writeError(w, req.ID, mcperr.Newf(mcperr.MethodNotFound, "Method not found: %s", req.Method))
	}
}

func decodeCallParams(raw *json.RawMessage) (string, map[string]any, *mcperr.Error) {
	if raw == nil {
		return "", nil, mcperr.New(mcperr.InvalidParams, "Invalid params: params required")
	}
	var params callParams
	if err := json.Unmarshal(*raw, &params); err != nil {
		return "", nil, mcperr.Newf(mcperr.InvalidParams, "Invalid params: %v", err)
	}
	if params.Name == "" || params.Arguments == nil {
		return "", nil, mcperr.New(mcperr.InvalidParams, "Invalid params: missing 'name' or 'arguments'")
	}
	return params.Name, params.Arguments, nil
}

// writeResult emits a success response. Requests without an id get none.
func (s *Server) writeResult(w io.Writer, id *json.RawMessage, result any) {
	if id == nil {
		return
	}
	s.writeLine(w, response{JSONRPC: "2.0", ID: id, Result: result})
}

// writeError emits an error response. Parse errors carry a null id.
func (s *Server) writeError(w io.Writer, id *json.RawMessage, err *mcperr.Error) {
	if id == nil && err.Code != mcperr.ParseError {
		s.log.Warn("dropping error for notification", "code", int(err.Code), "message", err.Message)
		return
	}
	if id == nil {
		null := json.RawMessage("null")
		id = &null
	}
	s.writeLine(w, response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &errorObject{Code: int(err.Code), Message: err.Message, Data: dataOrNil(err)},
	})
}

func dataOrNil(err *mcperr.Error) any {
	if len(err.Data) == 0 {
		return nil
	}
	return err.Data
}

// writeLine serializes one response as a single flushed line. A mutex keeps
// concurrent handlers from interleaving partial lines.
func (s *Server) writeLine(w io.Writer, resp response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		// Result was not serializable; degrade to an internal error so the
		// request still gets exactly one response.
		s.log.Error("response marshal failed", "error", err)
		payload, _ = json.Marshal(response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &errorObject{Code: int(mcperr.InternalError), Message: "Internal error: unserializable result"},
		})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeErr != nil {
		return
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		s.writeErr = fmt.Errorf("%w: write: %v", ErrIO, err)
	}
}

func (s *Server) takeWriteErr() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeErr
}
