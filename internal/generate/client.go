package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Fixed generation parameters. Callers cannot override them.
const (
	MaxNewTokens = 512
	DoSample     = true
	Temperature  = 0.7
	TopP         = 0.9
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoGeneratedText is returned when the endpoint answers 2xx without generated_text.
var ErrNoGeneratedText = errors.New("No response content from the model")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the JSON body POSTed to the generation endpoint.
type Request struct {
	Messages     []Message `json:"messages"`
	UserMessage  string    `json:"user_message"`
	MaxNewTokens int       `json:"max_new_tokens"`
	DoSample     bool      `json:"do_sample"`
	Temperature  float64   `json:"temperature"`
	TopP         float64   `json:"top_p"`
}

type Response struct {
	GeneratedText *string `json:"generated_text"`
}

// NewRequest copies history and appends the user turn. history is never modified.
func NewRequest(history []Message, message string) Request {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: message})
	return Request{
		Messages:     msgs,
		UserMessage:  message,
		MaxNewTokens: MaxNewTokens,
		DoSample:     DoSample,
		Temperature:  Temperature,
		TopP:         TopP,
	}
}

// Doer is the subset of *http.Client used by Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	endpoint string
	http     Doer
}

// NewHTTPClient returns an instrumented client that opens a fresh connection per call.
func NewHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	return &http.Client{Transport: otelhttp.NewTransport(tr)}
}

func NewClient(endpoint string, doer Doer) *Client {
	if doer == nil {
		doer = NewHTTPClient()
	}
	return &Client{endpoint: endpoint, http: doer}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Generate sends one blocking POST and returns the generated text.
//
// Failures are one of *StatusError (non-2xx reply), *ConnectionError (no reply
// at all) or a plain error for anything else, including ErrNoGeneratedText.
func (c *Client) Generate(ctx context.Context, payload Request) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode generation request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "build generation request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", &ConnectionError{Reason: connectionReason(err)}
	}
	defer res.Body.Close()

	// The status line alone decides the tier; an error body is never read.
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &StatusError{Code: res.StatusCode, Reason: statusReason(res)}
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &ConnectionError{Reason: connectionReason(err)}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.GeneratedText == nil {
		return "", ErrNoGeneratedText
	}
	return *out.GeneratedText, nil
}

// statusReason extracts the reason phrase, e.g. "Not Found" from "404 Not Found".
func statusReason(res *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if reason == "" {
		reason = http.StatusText(res.StatusCode)
	}
	return reason
}

func connectionReason(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return err.Error()
}

// Summary is a short description of a payload for logs.
func Summary(p Request) string {
	return fmt.Sprintf("messages=%d user_message_len=%d", len(p.Messages), len(p.UserMessage))
}
