package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/stream"
)

var (
	streamTask string
	serveAddr  string
)

var streamCmd = &cobra.Command{
	Use:   "stream <document-id>",
	Short: "Run a task section by section, printing events as SSE frames",
	Long: `Stream runs anomaly analysis or test case generation one section at a time
and writes every event (start, segment_start, token, segment_done, complete,
error) to stdout as a server-sent-events frame, ending with data: [DONE].

With --nats (or stream.nats_url) the same events are also published to
<subject-prefix>.<run-id>.<event-type>.

Example:
  reqflow stream 3f2c... --task testcases
  reqflow stream 3f2c... --nats nats://localhost:4222`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := model.ParseTask(streamTask)
		if err != nil {
			return err
		}
		return withApp(cmd, true, func(ctx context.Context, a *app) error {
			if a.cfg.Stream.NATSURL == "" {
				events, err := a.orchestrator.Run(ctx, args[0], task)
				if err != nil {
					return err
				}
				return stream.WriteSSE(cmd.OutOrStdout(), events)
			}

			conn, err := stream.Connect(a.cfg.Stream.NATSURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			events, err := a.orchestrator.Run(ctx, args[0], task)
			if err != nil {
				return err
			}
			toWriter, toNATS := stream.Tee(events, a.cfg.Stream.Buffer)
			var g errgroup.Group
			g.Go(func() error { return stream.WriteSSE(cmd.OutOrStdout(), toWriter) })
			g.Go(func() error { return stream.Publish(ctx, toNATS, conn, a.cfg.Stream.SubjectPrefix) })
			return g.Wait()
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve streaming runs over HTTP",
	Long: `Serve exposes the streaming orchestrator over HTTP:

  GET /stream?document=<id>&task=<anomalies|testcases>   SSE event stream
  GET /metrics                                           prometheus metrics
  GET /healthz                                           liveness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, true, func(ctx context.Context, a *app) error {
			mux := http.NewServeMux()
			mux.Handle("/stream", stream.NewHandler(a.orchestrator, a.logger.Named("http")))
			mux.Handle("/metrics", a.metrics.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok\n"))
			})

			srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.logger.Info("serving", zap.String("addr", serveAddr))

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(streamCmd, serveCmd)

	streamCmd.Flags().StringVar(&streamTask, "task", "anomalies", "task to stream (anomalies or testcases)")
	streamCmd.Flags().String("nats", "", "also publish events to this NATS server")
	streamCmd.Flags().String("subject-prefix", "", "NATS subject prefix (default reqflow.runs)")
	_ = viper.BindPFlag("stream.nats_url", streamCmd.Flags().Lookup("nats"))
	_ = viper.BindPFlag("stream.subject_prefix", streamCmd.Flags().Lookup("subject-prefix"))

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}
