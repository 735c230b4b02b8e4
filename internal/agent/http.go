package agent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	commandPath     = "/v1/commands"
	signatureHeader = "X-Motion-Signature"
	kindHeader      = "X-Motion-Command"
)

// Envelope is the HTTP body of a command.
type Envelope struct {
	Kind    Kind                `json:"kind"`
	HostID  int64               `json:"host_id"`
	Sent    time.Time           `json:"sent"`
	Command jsoniter.RawMessage `json:"command"`
}

// HostLookup resolves a host ID to its agent endpoint.
type HostLookup interface {
	Host(id int64) (*model.Host, error)
}

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	Secret string
	// Grace is added to each command's Wait to bound the round trip.
	Grace time.Duration
	// DefaultWait bounds commands that carry no wait of their own.
	DefaultWait time.Duration
}

// HTTPGateway posts commands as JSON to the agent URL of each host.
type HTTPGateway struct {
	cfg   HTTPConfig
	hosts HostLookup
	http  *http.Client
}

// NewHTTPGateway creates a gateway resolving endpoints through hosts.
func NewHTTPGateway(cfg HTTPConfig, hosts HostLookup) *HTTPGateway {
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = 60 * time.Second
	}
	return &HTTPGateway{
		cfg:   cfg,
		hosts: hosts,
		http:  &http.Client{},
	}
}

func (g *HTTPGateway) timeout(cmd Command) time.Duration {
	wait := cmd.Wait()
	if wait <= 0 {
		wait = g.cfg.DefaultWait
	}
	return wait + g.cfg.Grace
}

func (g *HTTPGateway) Send(ctx context.Context, hostID int64, cmd Command) (*Answer, error) {
	host, err := g.hosts.Host(hostID)
	if err != nil {
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: %v", hostID, err)
	}
	if host.AgentURL == "" {
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d has no agent endpoint", hostID)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.Kind(), err)
	}
	body, err := json.Marshal(Envelope{Kind: cmd.Kind(), HostID: hostID, Sent: time.Now().UTC(), Command: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	timeout := g.timeout(cmd)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(host.AgentURL, "/")+commandPath, bytes.NewReader(body))
	if err != nil {
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: %v", hostID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "motion-agent-gateway/1.0")
	req.Header.Set(kindHeader, string(cmd.Kind()))
	if g.cfg.Secret != "" {
		req.Header.Set(signatureHeader, Sign(body, g.cfg.Secret))
	}

	resp, err := g.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errclass.ErrOperationTimedOut.WithMessagef("host %d did not answer %s within %s", hostID, cmd.Kind(), timeout)
		}
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: %v", hostID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, errclass.ErrOperationTimedOut.WithMessagef("host %d did not answer %s within %s", hostID, cmd.Kind(), timeout)
		}
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: read answer: %v", hostID, err)
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, errclass.ErrOperationTimedOut.WithMessagef("host %d: %s", hostID, strings.TrimSpace(string(data)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: http %d: %s", hostID, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var ans Answer
	if err := json.Unmarshal(data, &ans); err != nil {
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: decode answer: %v", hostID, err)
	}
	return &ans, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Sign creates an HMAC-SHA256 signature for the payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// NewHTTPHandler serves the agent side of the protocol by decoding
// envelopes and passing them to h. With a secret set, unsigned or badly
// signed requests are rejected.
func NewHTTPHandler(secret string, h Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(commandPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if secret != "" && !hmac.Equal([]byte(r.Header.Get(signatureHeader)), []byte(Sign(body, secret))) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}

		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := newCommand(env.Kind)
		if cmd == nil {
			http.Error(w, fmt.Sprintf("unknown command %q", env.Kind), http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(env.Command, cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ans, err := h(r.Context(), cmd)
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, errclass.ErrOperationTimedOut) {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, err.Error(), status)
			return
		}
		if ans == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ans)
	})
	return mux
}
