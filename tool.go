package ensagent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/everFinance/ensagent/schema"
	"github.com/tidwall/gjson"
)

const (
	toolProtocolVersion = "2024-11-05"

	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type toolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolServer exposes the agent as line-delimited JSON-RPC 2.0 over a pair of streams,
// for assistants that launch it as a tool subprocess.
type ToolServer struct {
	agent   *Agent
	version string
}

func NewToolServer(agent *Agent, version string) *ToolServer {
	return &ToolServer{agent: agent, version: version}
}

// Serve handles one request per line until in is exhausted or ctx is done.
func (t *ToolServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := t.handle(ctx, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (t *ToolServer) handle(ctx context.Context, line string) *rpcResponse {
	if !gjson.Valid(line) {
		return errResponse(json.RawMessage("null"), rpcParseError, "parse error")
	}
	req := gjson.Parse(line)
	id := req.Get("id")
	method := req.Get("method").String()
	if method == "" {
		return errResponse(rawId(id), rpcInvalidRequest, "missing method")
	}
	// notifications get no answer
	if !id.Exists() {
		log.Debug("tool notification", "method", method)
		return nil
	}

	switch method {
	case "initialize":
		return okResponse(rawId(id), map[string]interface{}{
			"protocolVersion": toolProtocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      map[string]string{"name": ServiceName, "version": t.version},
		})
	case "ping":
		return okResponse(rawId(id), map[string]interface{}{})
	case "tools/list":
		return okResponse(rawId(id), map[string]interface{}{"tools": toolSpecs()})
	case "tools/call":
		name := req.Get("params.name").String()
		if name == "" {
			return errResponse(rawId(id), rpcInvalidParams, "missing params.name")
		}
		return okResponse(rawId(id), t.call(ctx, name, req.Get("params.arguments")))
	default:
		return errResponse(rawId(id), rpcMethodNotFound, "method not found: "+method)
	}
}

func (t *ToolServer) call(ctx context.Context, tool string, args gjson.Result) toolResult {
	var (
		out interface{}
		err error
	)
	switch tool {
	case "checkAvailability":
		out, err = t.agent.availability(ctx, args.Get("name").String())
	case "getPrice":
		var y *float64
		if y, err = years(args); err == nil {
			quoteYears := float64(schema.DefaultYears)
			if y != nil {
				quoteYears = *y
			}
			out, err = t.price(ctx, args.Get("name").String(), quoteYears)
		}
	case "register":
		var (
			y   *float64
			res *schema.RegistrationResult
		)
		if y, err = years(args); err != nil {
			break
		}
		res, err = t.agent.RegisterService(ctx, schema.ReqRegister{
			Name:        args.Get("name").String(),
			Owner:       args.Get("owner").String(),
			Years:       y,
			MaxPriceWei: args.Get("maxPriceWei").String(),
		})
		if err == nil {
			out = schema.RespRegister{
				Success:        true,
				Name:           res.Name,
				Owner:          res.Owner.Hex(),
				DurationSecond: res.Duration,
				CommitTxHash:   res.CommitTxHash.Hex(),
				RegisterTxHash: res.RegisterTxHash.Hex(),
				EnsCostEth:     FormatEther(res.Cost),
			}
		}
	default:
		err = fmt.Errorf("unknown tool: %s", tool)
	}
	if err != nil {
		by, _ := json.Marshal(schema.RespErr{Err: err.Error(), Kind: Kind(err), Pending: Pending(err)})
		return toolResult{Content: []toolContent{{Type: "text", Text: string(by)}}, IsError: true}
	}
	by, err := json.Marshal(out)
	if err != nil {
		return toolResult{Content: []toolContent{{Type: "text", Text: err.Error()}}, IsError: true}
	}
	return toolResult{Content: []toolContent{{Type: "text", Text: string(by)}}}
}

func (t *ToolServer) price(ctx context.Context, name string, years float64) (schema.RespPrice, error) {
	quote, err := t.agent.Quote(ctx, name, years)
	if err != nil {
		return schema.RespPrice{}, err
	}
	canonical, _ := NormalizeName(name)
	return schema.RespPrice{
		Name:       canonical,
		Years:      years,
		BaseWei:    quote.Base.String(),
		PremiumWei: quote.Premium.String(),
		TotalWei:   quote.Total().String(),
		TotalEth:   FormatEther(quote.Total()),
	}, nil
}

// years is nil when the argument is absent; anything but a json number is rejected.
func years(args gjson.Result) (*float64, error) {
	y := args.Get("years")
	if !y.Exists() {
		return nil, nil
	}
	if y.Type != gjson.Number {
		return nil, newError(ErrInvalidDuration, "years must be a number: "+y.Raw, nil)
	}
	v := y.Float()
	return &v, nil
}

func rawId(id gjson.Result) json.RawMessage {
	if !id.Exists() {
		return json.RawMessage("null")
	}
	return json.RawMessage(id.Raw)
}

func okResponse(id json.RawMessage, result interface{}) *rpcResponse {
	return &rpcResponse{Jsonrpc: "2.0", Id: id, Result: result}
}

func errResponse(id json.RawMessage, code int, msg string) *rpcResponse {
	return &rpcResponse{Jsonrpc: "2.0", Id: id, Error: &rpcError{Code: code, Message: msg}}
}

func toolSpecs() []toolSpec {
	nameProp := map[string]interface{}{"type": "string", "description": "second-level name ending in .eth"}
	yearsProp := map[string]interface{}{"type": "number", "description": "registration length in years", "default": schema.DefaultYears}
	return []toolSpec{
		{
			Name:        "checkAvailability",
			Description: "Check whether a .eth name can be registered",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"name": nameProp},
				"required":   []string{"name"},
			},
		},
		{
			Name:        "getPrice",
			Description: "Quote the rent price of a .eth name in wei and ETH",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"name": nameProp, "years": yearsProp},
				"required":   []string{"name"},
			},
		},
		{
			Name:        "register",
			Description: "Register a .eth name for an owner, paid by the agent's wallet. Takes about a minute.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":        nameProp,
					"owner":       map[string]interface{}{"type": "string", "description": "owner address or ENS name"},
					"years":       yearsProp,
					"maxPriceWei": map[string]interface{}{"type": "string", "description": "upper bound on the total price in wei"},
				},
				"required": []string{"name", "owner"},
			},
		},
	}
}
