package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// RemoteAuth configures how a remote tool call authenticates.
type RemoteAuth struct {
	Type   string `yaml:"type"` // bearer, api-key
	Token  string `yaml:"token"`
	Header string `yaml:"header"`
	Key    string `yaml:"key"`
}

// RemoteTool is a business tool served by an external endpoint speaking
// the JSON-RPC tools/call method.
type RemoteTool struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Endpoint    string                  `yaml:"endpoint"`
	Parameters  *models.ParameterSchema `yaml:"parameters"`
	Auth        *RemoteAuth             `yaml:"auth"`
}

type remoteFile struct {
	Tools []RemoteTool `yaml:"tools"`
}

// LoadRemoteTools reads remote tool declarations from a YAML file.
func LoadRemoteTools(path string) ([]RemoteTool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools file: %w", err)
	}
	var f remoteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tools file: %w", err)
	}
	for _, t := range f.Tools {
		if t.Name == "" || t.Endpoint == "" {
			return nil, fmt.Errorf("tools file: every tool needs a name and an endpoint")
		}
	}
	return f.Tools, nil
}

type rpcRequest struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      string      `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RemoteExecutor invokes remote tools over HTTP.
type RemoteExecutor struct {
	client *http.Client
}

// NewRemoteExecutor creates an executor with a bounded per-call timeout.
func NewRemoteExecutor(timeout time.Duration) *RemoteExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteExecutor{client: &http.Client{Timeout: timeout}}
}

// Register adds every remote tool to r.
func (x *RemoteExecutor) Register(r *Registry, tools []RemoteTool) error {
	for _, t := range tools {
		t := t
		def := models.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		if err := r.Register(def, func(ctx context.Context, call Call, args map[string]interface{}) (*Result, error) {
			out, err := x.call(ctx, t, call, args)
			if err != nil {
				return nil, err
			}
			return &Result{Output: out}, nil
		}); err != nil {
			return err
		}
		log.Info().Str("tool", t.Name).Str("endpoint", t.Endpoint).Msg("🔌 Remote tool registered")
	}
	return nil
}

func (x *RemoteExecutor) call(ctx context.Context, t RemoteTool, call Call, args map[string]interface{}) (interface{}, error) {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      t.Name,
			"arguments": args,
			"agentId":   call.Agent.ID,
			"userId":    call.CallerID,
		},
		ID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, t.Auth)

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote tool: status %d", resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(respBody, &rpc); err == nil && (rpc.Result != nil || rpc.Error != nil) {
		if rpc.Error != nil {
			return nil, fmt.Errorf("remote tool: %s", rpc.Error.Message)
		}
		var out interface{}
		if err := json.Unmarshal(rpc.Result, &out); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return out, nil
	}

	// Not JSON-RPC; hand back the raw body as text.
	return map[string]interface{}{"text": string(respBody)}, nil
}

func applyAuth(req *http.Request, auth *RemoteAuth) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "bearer":
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		}
	case "api-key":
		if auth.Header != "" && auth.Key != "" {
			req.Header.Set(auth.Header, auth.Key)
		}
	}
}
