package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_connections_total",
		Help: "Total de conexiones TCP aceptadas por protocolo",
	}, []string{"protocol"})
	Datagrams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_datagrams_total",
		Help: "Total de datagramas UDP recibidos por protocolo",
	}, []string{"protocol"})
	FramesRecv = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_frames_received_total",
		Help: "Total de frames cortados del stream",
	}, []string{"protocol"})
	BufferOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_buffer_overflows_total",
		Help: "Buffers descartados por exceder el tamaño maximo",
	}, []string{"protocol"})
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_sessions_opened_total",
		Help: "Sesiones de dispositivo resueltas",
	})
	UnknownDevices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_unknown_devices_total",
		Help: "Mensajes de identificadores no registrados",
	})
	RepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_replies_sent_total",
		Help: "Respuestas (ACK) enviadas a dispositivos",
	})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_decode_errors_total",
		Help: "Errores al decodificar frames",
	}, []string{"protocol"})
	PositionsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_positions_decoded_total",
		Help: "Posiciones producidas por los decoders",
	}, []string{"protocol"})
	PositionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_positions_accepted_total",
		Help: "Posiciones aceptadas por el filtro",
	})
	PositionsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_positions_filtered_total",
		Help: "Posiciones descartadas por razon de filtro",
	}, []string{"reason"})
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_events_total",
		Help: "Eventos generados por tipo",
	}, []string{"type"})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_sink_errors_total",
		Help: "Errores al entregar posiciones o eventos a un sink",
	}, []string{"sink"})
	StateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_state_errors_total",
		Help: "Errores al escribir estado de dispositivo en Redis",
	})
	DecodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "track_decode_latency_seconds",
		Help:    "Latencia de decodificacion por frame",
		Buckets: prometheus.DefBuckets,
	})
	PipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "track_pipeline_latency_seconds",
		Help:    "Latencia del pipeline por posicion",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveDecodeLatency(start time.Time) {
	DecodeLatency.Observe(time.Since(start).Seconds())
}

func ObservePipelineLatency(start time.Time) {
	PipelineLatency.Observe(time.Since(start).Seconds())
}

// Handler expone /metrics y /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartMetricsServer sirve Handler hasta que ctx se cancela.
func StartMetricsServer(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
