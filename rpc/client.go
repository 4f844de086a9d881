package rpc

import (
	"context"
	"fmt"
	"net/rpc"
	"strings"

	"github.com/google/uuid"

	"github.com/mohans/sensorq/tasks"
)

// Client is a tasks.Repository backed by a remote coordinator.
type Client struct {
	addr string
	c    *rpc.Client
}

var _ tasks.Repository = (*Client)(nil)

func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{addr: addr, c: c}, nil
}

func (cl *Client) Close() error {
	if cl.c != nil {
		return cl.c.Close()
	}
	return nil
}

// call waits for the reply or for ctx. An abandoned call still completes in
// the background; its reply is discarded.
func (cl *Client) call(ctx context.Context, method string, args, reply any) error {
	call := cl.c.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return remoteError(call.Error)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// remoteError restores the sentinel errors callers match on. net/rpc only
// carries the message.
func remoteError(err error) error {
	se, ok := err.(rpc.ServerError)
	if !ok {
		return err
	}
	if strings.Contains(string(se), tasks.ErrResultNotReady.Error()) {
		return fmt.Errorf("%w: %s", tasks.ErrResultNotReady, string(se))
	}
	return err
}

func (cl *Client) Submit(ctx context.Context, task tasks.Task) error {
	return cl.call(ctx, "Submit", &SubmitArgs{Task: task}, &SubmitReply{})
}

func (cl *Client) Grant(ctx context.Context, workerID uuid.UUID) (tasks.Task, bool, error) {
	reply := &GrantReply{}
	if err := cl.call(ctx, "Grant", &GrantArgs{WorkerID: workerID}, reply); err != nil {
		return tasks.Task{}, false, err
	}
	return reply.Task, reply.HasTask, nil
}

func (cl *Client) Complete(ctx context.Context, workerID, taskID uuid.UUID, result tasks.Result) error {
	return cl.call(ctx, "Complete", &CompleteArgs{WorkerID: workerID, TaskID: taskID, Result: result}, &CompleteReply{})
}

func (cl *Client) Fail(ctx context.Context, workerID, taskID uuid.UUID, reason string) error {
	return cl.call(ctx, "Fail", &FailArgs{WorkerID: workerID, TaskID: taskID, Reason: reason}, &FailReply{})
}

func (cl *Client) Status(ctx context.Context, taskID uuid.UUID) (tasks.Status, error) {
	reply := &StatusReply{}
	if err := cl.call(ctx, "Status", &StatusArgs{TaskID: taskID}, reply); err != nil {
		return "", err
	}
	return tasks.Status(reply.Status), nil
}

func (cl *Client) CollectResults(ctx context.Context, taskIDs []uuid.UUID) ([]tasks.ResultEntry, error) {
	reply := &CollectReply{}
	if err := cl.call(ctx, "CollectResults", &CollectArgs{TaskIDs: taskIDs}, reply); err != nil {
		return nil, err
	}
	if reply.Entries == nil {
		reply.Entries = []tasks.ResultEntry{}
	}
	return reply.Entries, nil
}
