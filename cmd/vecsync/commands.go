package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vecsync/internal/api"
	"github.com/kalambet/vecsync/internal/checkpoint"
	"github.com/kalambet/vecsync/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single sync job and print its report",
	Long: `Run a single sync job and print its report.

Examples:
  vecsync run --text "Hello, world!" --vector-bucket my-bucket --index my-index
  vecsync run --files "./docs/*.pdf" --vector-bucket my-bucket --index my-index
  vecsync run --s3 s3://source-bucket/docs/ --vector-bucket my-bucket --index my-index
  vecsync run --resume 4f7c... --s3 s3://source-bucket/docs/ --vector-bucket my-bucket --index my-index`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		files, _ := cmd.Flags().GetString("files")
		s3uri, _ := cmd.Flags().GetString("s3")
		vectorBucket, _ := cmd.Flags().GetString("vector-bucket")
		index, _ := cmd.Flags().GetString("index")
		modelID, _ := cmd.Flags().GetString("model-id")
		resume, _ := cmd.Flags().GetString("resume")

		spec := api.JobSpec{
			Files:        files,
			ModelID:      modelID,
			VectorBucket: vectorBucket,
			IndexName:    index,
			ResumeJobID:  resume,
		}
		if text != "" {
			spec.Text = []api.TextItem{{ID: "text-1", Text: text}}
		}
		if s3uri != "" {
			prefix, err := parseS3URI(s3uri)
			if err != nil {
				return err
			}
			spec.S3 = prefix
		}

		return runJob(spec)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync job API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	runCmd.Flags().String("text", "", "inline text to embed and store")
	runCmd.Flags().String("files", "", "local file or glob pattern to embed and store")
	runCmd.Flags().String("s3", "", "s3://bucket/prefix of objects to embed and store")
	runCmd.Flags().String("vector-bucket", "", "target vector bucket name")
	runCmd.Flags().String("index", "", "target vector index name")
	runCmd.Flags().String("model-id", "", "Bedrock embedding model id (default from config)")
	runCmd.Flags().String("resume", "", "job id to resume")
}

func runJob(spec api.JobSpec) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ckpt, err := checkpoint.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	defer ckpt.Close()

	cl, err := newClients(ctx, cfg)
	if err != nil {
		return err
	}

	manager := api.NewManager(ctx, newPipelineBuilder(cfg, cl, ckpt), ckpt)
	job, err := manager.Start(spec)
	if err != nil {
		return err
	}
	job.Wait()

	done, _ := manager.Get(job.ID)
	out, err := json.MarshalIndent(done, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if rep := done.Report; rep != nil && (rep.Failed > 0 || rep.Err != "") {
		return fmt.Errorf("%d of %d items failed", rep.Failed, rep.Total())
	}
	return nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ckpt, err := checkpoint.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	defer ckpt.Close()

	cl, err := newClients(ctx, cfg)
	if err != nil {
		return err
	}

	manager := api.NewManager(ctx, newPipelineBuilder(cfg, cl, ckpt), ckpt)
	handler := api.NewHandler(api.Deps{Manager: manager, Token: cfg.Server.Token})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stdout, "vecsync %s listening on http://%s\n", version, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseS3URI(uri string) (*api.S3Prefix, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return nil, fmt.Errorf("invalid S3 URI %q: must start with s3://", uri)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid S3 URI %q: missing bucket", uri)
	}
	return &api.S3Prefix{Bucket: bucket, Prefix: prefix}, nil
}
