package link

import (
	"context"
	"errors"
	"net"
	"sync"

	"fleetwake/internal/logs"
)

// Server — TCP-листенер линка агентов. Каждое принятое соединение
// обслуживается независимой горутиной; общее состояние между ними —
// только реестр.
type Server struct {
	addr    string
	handler *Handler

	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(addr string, handler *Handler) *Server {
	return &Server{addr: addr, handler: handler}
}

// Start открывает листенер и запускает accept-цикл в фоне.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	logs.Logger.Infof("link: listening on %s", s.addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logs.Logger.Errorf("link: accept: %v", err)
				continue
			}
			logs.Logger.Debugf("link: new connection from %s", conn.RemoteAddr())
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handler.Serve(ctx, conn)
			}()
		}
	}()
	return nil
}

// Stop закрывает листенер. Открытые соединения закрывает реестр
// (CloseAll), что разблокирует их обработчики.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

// Wait дожидается завершения accept-цикла и всех обработчиков.
func (s *Server) Wait() { s.wg.Wait() }
