package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
	"github.com/rzbill/flo-dispatcher/internal/metrics"
	"github.com/rzbill/flo-dispatcher/internal/runtime"
	"github.com/rzbill/flo-dispatcher/pkg/log"
)

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

// New builds the ops server. m may be nil, in which case /metrics is not
// registered.
func New(rt *runtime.Runtime, m *metrics.Metrics, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	mux := http.NewServeMux()
	s := &Server{
		rt:     rt,
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger.With(log.Component("http")),
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/dispatchers", s.handleDispatchers)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr is the bound address once ListenAndServe is running.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type positionView struct {
	Raw       int64 `json:"raw"`
	Partition int32 `json:"partition"`
	Offset    int32 `json:"offset"`
}

func viewOf(p int64) positionView {
	return positionView{Raw: p, Partition: logbuffer.PartitionID(p), Offset: logbuffer.PartitionOffset(p)}
}

type subscriptionView struct {
	Name     string       `json:"name"`
	Position positionView `json:"position"`
}

type dispatcherView struct {
	Name              string             `json:"name"`
	PartitionSize     int32              `json:"partitionSize"`
	PartitionCount    int                `json:"partitionCount"`
	ActivePartition   int32              `json:"activePartition"`
	PublisherPosition positionView       `json:"publisherPosition"`
	PublisherLimit    positionView       `json:"publisherLimit"`
	Subscriptions     []subscriptionView `json:"subscriptions"`
	ExportedSeq       *uint64            `json:"exportedSeq,omitempty"`
}

func (s *Server) handleDispatchers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := make([]dispatcherView, 0)
	for _, name := range s.rt.Names() {
		d, err := s.rt.Dispatcher(name)
		if err != nil {
			continue
		}
		buf := d.LogBuffer()
		v := dispatcherView{
			Name:              name,
			PartitionSize:     buf.PartitionSize(),
			PartitionCount:    buf.PartitionCount(),
			ActivePartition:   buf.ActivePartitionIDVolatile(),
			PublisherPosition: viewOf(d.PublisherPosition()),
			PublisherLimit:    viewOf(d.PublisherLimit()),
			Subscriptions:     make([]subscriptionView, 0),
		}
		for _, sub := range d.Subscriptions() {
			v.Subscriptions = append(v.Subscriptions, subscriptionView{Name: sub.Name(), Position: viewOf(sub.Position())})
		}
		if e, ok := s.rt.Exporter(name); ok {
			seq := e.NextSeq()
			v.ExportedSeq = &seq
		}
		out = append(out, v)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
