// Package rpc exposes a tasks.Repository over net/rpc so workers on other
// machines can lease and report tasks.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"

	"github.com/mohans/sensorq/tasks"
)

// Service is the receiver registered under ServiceName. Its methods follow
// the net/rpc calling convention.
type Service struct {
	repo tasks.Repository
}

func (s *Service) Submit(args *SubmitArgs, reply *SubmitReply) error {
	if args == nil {
		return errors.New("missing args")
	}
	if err := s.repo.Submit(context.Background(), args.Task); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

func (s *Service) Grant(args *GrantArgs, reply *GrantReply) error {
	if args == nil {
		return errors.New("missing worker id")
	}
	task, ok, err := s.repo.Grant(context.Background(), args.WorkerID)
	if err != nil {
		return err
	}
	reply.HasTask = ok
	if ok {
		reply.Task = task
	}
	return nil
}

func (s *Service) Complete(args *CompleteArgs, reply *CompleteReply) error {
	if args == nil {
		return errors.New("missing args")
	}
	if err := s.repo.Complete(context.Background(), args.WorkerID, args.TaskID, args.Result); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

func (s *Service) Fail(args *FailArgs, reply *FailReply) error {
	if args == nil {
		return errors.New("missing args")
	}
	if err := s.repo.Fail(context.Background(), args.WorkerID, args.TaskID, args.Reason); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	if args == nil {
		return errors.New("missing task id")
	}
	st, err := s.repo.Status(context.Background(), args.TaskID)
	if err != nil {
		return err
	}
	reply.Status = string(st)
	return nil
}

func (s *Service) CollectResults(args *CollectArgs, reply *CollectReply) error {
	if args == nil {
		return errors.New("missing task ids")
	}
	entries, err := s.repo.CollectResults(context.Background(), args.TaskIDs)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}

// Server accepts worker connections.
type Server struct {
	rpc    *rpc.Server
	logger *slog.Logger
}

func NewServer(repo tasks.Repository, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, &Service{repo: repo}); err != nil {
		return nil, fmt.Errorf("rpc register: %w", err)
	}
	return &Server{rpc: srv, logger: logger}, nil
}

// Serve runs the accept loop on ln until ctx is done, then closes ln.
// Connections already accepted are served until the peer hangs up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("rpc listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept", "err", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.logger.Debug("worker connected", "remote", conn.RemoteAddr().String())
		go s.rpc.ServeConn(conn)
	}
}
