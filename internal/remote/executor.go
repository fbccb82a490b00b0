package remote

import (
	"context"
	"errors"

	"github.com/tillsync-io/tillsync/internal/models"
)

// endpointFor maps queue operation types to backend methods.
var endpointFor = map[models.OpType]string{
	models.OpCreateSaleRecord:   MethodSubmitSale,
	models.OpUpsertCustomer:     MethodUpsertCustomer,
	models.OpUpdateCatalogEntry: MethodUpdateItem,
	models.OpAdjustStock:        MethodAdjustStock,
}

// Executor adapts the Client to the queue's executor contract: one queue
// item in, nil or a categorized *Error out.
type Executor struct {
	client *Client
}

// NewExecutor creates an Executor over client.
func NewExecutor(client *Client) *Executor {
	return &Executor{client: client}
}

// Execute sends one queue item to the endpoint for its operation type.
func (e *Executor) Execute(ctx context.Context, item *models.QueueItem) error {
	method, ok := endpointFor[item.Type]
	if !ok {
		return &Error{
			Category: CategoryValidation,
			Op:       item.Type,
			Message:  "no endpoint for operation type",
		}
	}

	err := e.client.Push(ctx, method, item.Payload)
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Op == "" {
		rerr.Op = item.Type
	}
	return err
}
