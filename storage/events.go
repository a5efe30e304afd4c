package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard-api/domain"
)

// QueuePublisher sends board events to an Azure Storage queue.
type QueuePublisher struct {
	eventsQueue *azqueue.QueueClient
}

// NewQueuePublisher creates a publisher for the named queue.
func NewQueuePublisher(connStr, queueName string) (*QueuePublisher, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{eventsQueue: q}, nil
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	return json.Marshal(domain.EventEnvelope{UserID: ev.UserID, Event: ev})
}

// PublishEvents enqueues each event as a separate message.
func (p *QueuePublisher) PublishEvents(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		data, err := encodeEvent(ev)
		if err != nil {
			return err
		}
		if _, err := p.eventsQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
