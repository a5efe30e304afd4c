package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

// maxTransactionActions is the entity group transaction limit of Azure Tables.
const maxTransactionActions = 100

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// TableStore keeps tasks in an Azure Table, one partition per owner.
type TableStore struct {
	taskTable *aztables.Client
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tasksTable string) (*TableStore, error) {
	svc, err := newTableService(connStr)
	if err != nil {
		return nil, err
	}
	return &TableStore{taskTable: svc.NewClient(tasksTable)}, nil
}

func newTableService(connStr string) (*aztables.ServiceClient, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
}

type taskEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Name         string `json:"Name"`
	Priority     string `json:"Priority"`
	Deadline     string `json:"Deadline"`
	Stage        int    `json:"Stage"`
	Rank         int    `json:"Rank"`
}

type storedTaskEntity struct {
	taskEntity
	ETag string `json:"odata.etag"`
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		PartitionKey: t.OwnerID,
		RowKey:       t.ID,
		Name:         t.Name,
		Priority:     string(t.Priority),
		Deadline:     t.Deadline,
		Stage:        int(t.Stage),
		Rank:         t.Rank,
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent storedTaskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:       ent.RowKey,
		OwnerID:  ent.PartitionKey,
		Name:     ent.Name,
		Priority: domain.Priority(ent.Priority),
		Deadline: ent.Deadline,
		Stage:    domain.Stage(ent.Stage),
		Rank:     ent.Rank,
		ETag:     ent.ETag,
	}, nil
}

func partitionFilter(ownerID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(ownerID, "'", "''") + "'"
}

// ListTasks retrieves all tasks of the provided owner.
func (s *TableStore) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	filter := partitionFilter(ownerID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// GetTask retrieves a task entity if present.
func (s *TableStore) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, ownerID, taskID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	t.ETag = string(resp.ETag)
	return &t, nil
}

// ApplyMutation writes the mutation as entity group transactions. Existing
// entities are written conditionally on their ETag.
func (s *TableStore) ApplyMutation(ctx context.Context, ownerID string, m ordering.Mutation) error {
	actions, err := transactionActions(ownerID, m)
	if err != nil {
		return err
	}
	for start := 0; start < len(actions); start += maxTransactionActions {
		end := start + maxTransactionActions
		if end > len(actions) {
			end = len(actions)
		}
		if _, err := s.taskTable.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			if isConflict(err) {
				return fmt.Errorf("table transaction: %w", domain.ErrConcurrencyConflict)
			}
			return err
		}
	}
	return nil
}

func transactionActions(ownerID string, m ordering.Mutation) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(m.Upserts)+len(m.Deletes))
	for _, t := range m.Upserts {
		if t.OwnerID != ownerID {
			return nil, fmt.Errorf("task %s is not owned by %s", t.ID, ownerID)
		}
		payload, err := encodeTaskEntity(t)
		if err != nil {
			return nil, err
		}
		if t.ETag == "" {
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
			continue
		}
		et := azcore.ETag(t.ETag)
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload, IfMatch: &et})
	}
	for _, t := range m.Deletes {
		payload, err := json.Marshal(map[string]string{"PartitionKey": ownerID, "RowKey": t.ID})
		if err != nil {
			return nil, err
		}
		et := azcore.ETagAny
		if t.ETag != "" {
			et = azcore.ETag(t.ETag)
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: &et})
	}
	return actions, nil
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	switch respErr.StatusCode {
	case 404, 409, 412:
		return true
	}
	switch respErr.ErrorCode {
	case "UpdateConditionNotSatisfied", "EntityAlreadyExists", "ResourceNotFound":
		return true
	}
	return false
}
