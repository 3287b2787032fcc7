package alerts

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/pkg/errors"
)

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// UpstreamFailure describes a failed call to the generation endpoint.
type UpstreamFailure struct {
	Service    string `json:"service"`
	RequestID  string `json:"requestId"`
	Caller     string `json:"caller,omitempty"`
	Endpoint   string `json:"endpoint"`
	Kind       string `json:"kind"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error"`
	At         string `json:"at"`
}

type Notifier struct {
	sns      Publisher
	topicArn string
}

// NewNotifier returns a notifier for topicArn. An empty ARN makes Notify a no-op.
func NewNotifier(p Publisher, topicArn string) *Notifier {
	return &Notifier{sns: p, topicArn: strings.TrimSpace(topicArn)}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.sns != nil && n.topicArn != ""
}

func (n *Notifier) Notify(ctx context.Context, f UpstreamFailure) error {
	if !n.Enabled() {
		return nil
	}
	if f.At == "" {
		f.At = time.Now().UTC().Format(time.RFC3339)
	}

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "alert marshal")
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject(f)),
		Message:  aws.String(string(b)),
	})
	if err != nil {
		return errors.Wrap(err, "sns publish")
	}
	return nil
}

const maxSubjectLen = 100

// subject is cut to the SNS limit without splitting a UTF-8 sequence.
func subject(f UpstreamFailure) string {
	s := f.Service + ": generation endpoint " + f.Kind
	if len(s) <= maxSubjectLen {
		return s
	}
	n := maxSubjectLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
