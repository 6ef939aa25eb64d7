package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/queue"
)

// Client calls QueueService over a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
}

var _ QueueAPI = (*Client)(nil)

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req Req) (Resp, error) {
	var out Resp
	in, err := encodeStruct(req)
	if err != nil {
		return out, fmt.Errorf("encode %s request: %w", method, err)
	}
	reply := new(structpb.Value)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, reply); err != nil {
		return out, err
	}
	if err := decodeValue(reply, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}

func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error) {
	return invoke[EnqueueRequest, EnqueueResponse](ctx, c, "Enqueue", req)
}

func (c *Client) EnqueueBatch(ctx context.Context, req EnqueueBatchRequest) (EnqueueBatchResponse, error) {
	return invoke[EnqueueBatchRequest, EnqueueBatchResponse](ctx, c, "EnqueueBatch", req)
}

func (c *Client) Status(ctx context.Context, req StatusRequest) (entity.QueueItemView, error) {
	return invoke[StatusRequest, entity.QueueItemView](ctx, c, "Status", req)
}

func (c *Client) GetItem(ctx context.Context, req ItemRequest) (entity.QueueItemView, error) {
	return invoke[ItemRequest, entity.QueueItemView](ctx, c, "GetItem", req)
}

func (c *Client) Cancel(ctx context.Context, req ItemRequest) (Empty, error) {
	return invoke[ItemRequest, Empty](ctx, c, "Cancel", req)
}

func (c *Client) Retry(ctx context.Context, req ItemRequest) (Empty, error) {
	return invoke[ItemRequest, Empty](ctx, c, "Retry", req)
}

func (c *Client) Stats(ctx context.Context, req Empty) (queue.Stats, error) {
	return invoke[Empty, queue.Stats](ctx, c, "Stats", req)
}

func (c *Client) GetResult(ctx context.Context, req ResultRequest) (*entity.ExtractionResult, error) {
	return invoke[ResultRequest, *entity.ExtractionResult](ctx, c, "GetResult", req)
}

func (c *Client) ListAttempts(ctx context.Context, req ItemRequest) ([]entity.EngineAttempt, error) {
	return invoke[ItemRequest, []entity.EngineAttempt](ctx, c, "ListAttempts", req)
}

func (c *Client) ExportXLSX(ctx context.Context, req StatusRequest) (ExportResponse, error) {
	return invoke[StatusRequest, ExportResponse](ctx, c, "ExportXLSX", req)
}
