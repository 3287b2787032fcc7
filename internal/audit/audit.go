package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ItemPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Outcome values stored on each record.
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeURLError  = "url_error"
	OutcomeError     = "error"
)

// Invocation is one chat call. Message contents are never stored.
type Invocation struct {
	RequestID      string
	Caller         string
	Outcome        string
	StatusCode     int
	UpstreamStatus int
	HistoryLen     int
	LatencyMs      int64
	At             time.Time
}

type record struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	RequestID      string `dynamodbav:"RequestId"`
	Caller         string `dynamodbav:"Caller"`
	Outcome        string `dynamodbav:"Outcome"`
	StatusCode     int    `dynamodbav:"StatusCode"`
	UpstreamStatus int    `dynamodbav:"UpstreamStatus,omitempty"`
	HistoryLen     int    `dynamodbav:"HistoryLen"`
	LatencyMs      int64  `dynamodbav:"LatencyMs"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	ExpiresAt      int64  `dynamodbav:"ExpiresAt"`
}

type Recorder struct {
	ddb   ItemPutter
	table string
	ttl   time.Duration
}

// NewRecorder returns a recorder that writes to table. An empty table makes
// Record a no-op.
func NewRecorder(ddb ItemPutter, table string, ttlDays int) *Recorder {
	if ttlDays <= 0 {
		ttlDays = 30
	}
	return &Recorder{
		ddb:   ddb,
		table: strings.TrimSpace(table),
		ttl:   time.Duration(ttlDays) * 24 * time.Hour,
	}
}

func (r *Recorder) Enabled() bool {
	return r != nil && r.ddb != nil && r.table != ""
}

func CallerPK(caller string) string {
	if caller == "" {
		caller = "anonymous"
	}
	return fmt.Sprintf("CALLER#%s", caller)
}

func (r *Recorder) Record(ctx context.Context, inv Invocation) error {
	if !r.Enabled() {
		return nil
	}
	at := inv.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	item := record{
		PK: CallerPK(inv.Caller),
		// time-ordered SK, uuid suffix keeps concurrent invocations apart
		SK: fmt.Sprintf("INV#%s#%s", at.Format(time.RFC3339Nano), uuid.NewString()),

		RequestID:      inv.RequestID,
		Caller:         inv.Caller,
		Outcome:        inv.Outcome,
		StatusCode:     inv.StatusCode,
		UpstreamStatus: inv.UpstreamStatus,
		HistoryLen:     inv.HistoryLen,
		LatencyMs:      inv.LatencyMs,
		CreatedAt:      at.Format(time.RFC3339),
		ExpiresAt:      at.Add(r.ttl).Unix(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return errors.Wrap(err, "audit marshal")
	}

	_, err = r.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		return errors.Wrap(err, "audit PutItem")
	}
	return nil
}
