package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/seagrayinc/ledgerctl/pkg/apdu"
)

// ScriptRunner relays APDUs between Ledger's HSM and the device. The HSM
// drives the conversation; the device only ever answers.
type ScriptRunner struct {
	BaseURL string
	Dialer  *websocket.Dialer

	device apdu.Exchanger
}

func NewScriptRunner(ep Endpoints, device apdu.Exchanger) *ScriptRunner {
	return &ScriptRunner{
		BaseURL: strings.TrimRight(ep.ScriptRunner, "/"),
		Dialer:  websocket.DefaultDialer,
		device:  device,
	}
}

// HSMError is an error reported by the HSM itself.
type HSMError struct {
	Message string
}

func (e *HSMError) Error() string { return "HSM error: " + e.Message }

var ErrRelayClosed = errors.New("HSM closed the connection before completing")

type hsmMessage struct {
	Nonce  int             `json:"nonce"`
	Query  string          `json:"query"`
	Data   json.RawMessage `json:"data"`
	Result json.RawMessage `json:"result"`
}

type hsmReply struct {
	Nonce    int    `json:"nonce"`
	Response string `json:"response"`
	Data     string `json:"data"`
}

// Run opens the script at path (e.g. "/install") with the given query and
// relays until the HSM reports success. It returns the HSM result, if any.
func (s *ScriptRunner) Run(ctx context.Context, path string, query url.Values) (string, error) {
	u := s.BaseURL + path + "?" + query.Encode()
	slog.Debug("connecting to HSM", slog.String("url", u))

	conn, _, err := s.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		return "", fmt.Errorf("connect to HSM: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	bulkDone := false
	for {
		var msg hsmMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if bulkDone && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", ErrRelayClosed
			}
			return "", fmt.Errorf("read HSM message: %w", err)
		}

		switch msg.Query {
		case "exchange":
			var raw string
			if err := json.Unmarshal(msg.Data, &raw); err != nil {
				return "", fmt.Errorf("exchange payload: %w", err)
			}
			data, err := s.exchangeHex(ctx, raw)
			if err != nil {
				_ = conn.WriteJSON(hsmReply{Nonce: msg.Nonce, Response: "error", Data: err.Error()})
				return "", err
			}
			if err := conn.WriteJSON(hsmReply{Nonce: msg.Nonce, Response: "success", Data: data}); err != nil {
				return "", fmt.Errorf("write HSM reply: %w", err)
			}

		case "bulk":
			var batch []string
			if err := json.Unmarshal(msg.Data, &batch); err != nil {
				return "", fmt.Errorf("bulk payload: %w", err)
			}
			for _, raw := range batch {
				if _, err := s.exchangeHex(ctx, raw); err != nil {
					return "", err
				}
			}
			bulkDone = true
			if err := conn.WriteJSON(hsmReply{Nonce: msg.Nonce, Response: "success"}); err != nil {
				return "", fmt.Errorf("write HSM reply: %w", err)
			}

		case "success":
			return decodeResult(msg), nil

		case "error":
			return "", &HSMError{Message: decodeText(msg.Data)}

		case "warning":
			slog.Info("HSM warning", slog.String("message", decodeText(msg.Data)))

		default:
			return "", fmt.Errorf("unsupported HSM query %q", msg.Query)
		}
	}
}

// exchangeHex sends one hex encoded APDU and returns the response payload as
// hex, status word removed.
func (s *ScriptRunner) exchangeHex(ctx context.Context, raw string) (string, error) {
	cmd, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode HSM apdu: %w", err)
	}
	resp, err := s.device.Exchange(ctx, cmd)
	if err != nil {
		return "", err
	}
	data, sw, err := apdu.SplitStatus(resp)
	if err != nil {
		return "", err
	}
	if sw != apdu.StatusOK {
		return "", &apdu.StatusError{Code: sw}
	}
	return hex.EncodeToString(data), nil
}

func decodeResult(msg hsmMessage) string {
	if len(msg.Result) > 0 {
		return decodeText(msg.Result)
	}
	return decodeText(msg.Data)
}

func decodeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
