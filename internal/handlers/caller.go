package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
)

// Caller is the identity asserted by the upstream Cognito authorizer.
// It is read for logs and audit only and is never verified here.
type Caller struct {
	Sub      string
	Email    string
	Username string
}

func (c Caller) Known() bool {
	return c.Sub != "" || c.Email != "" || c.Username != ""
}

// Name prefers email, then cognito:username, then sub.
func (c Caller) Name() string {
	switch {
	case c.Email != "":
		return c.Email
	case c.Username != "":
		return c.Username
	default:
		return c.Sub
	}
}

func callerFrom(req events.APIGatewayProxyRequest) Caller {
	// REST API Cognito authorizer: requestContext.authorizer.claims
	raw, ok := req.RequestContext.Authorizer["claims"]
	if !ok || raw == nil {
		return Caller{}
	}
	claims, ok := raw.(map[string]any)
	if !ok {
		return Caller{}
	}
	return Caller{
		Sub:      claimString(claims, "sub"),
		Email:    claimString(claims, "email"),
		Username: claimString(claims, "cognito:username"),
	}
}

func claimString(claims map[string]any, key string) string {
	v, ok := claims[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// requestIDFrom uses the API Gateway request id, then the Lambda one.
func requestIDFrom(ctx context.Context, req events.APIGatewayProxyRequest) string {
	if id := strings.TrimSpace(req.RequestContext.RequestID); id != "" {
		return id
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
