// Command scanctl uploads receipt files to the scan API and prints the
// extracted line items.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/client"
	"splitmate-scan/internal/domain/model"
)

type fileResult struct {
	File   string           `json:"file"`
	JobID  string           `json:"scanJobId,omitempty"`
	Items  []model.LineItem `json:"items,omitempty"`
	Total  float64          `json:"total,omitempty"`
	Error  string           `json:"error,omitempty"`
	Code   string           `json:"code,omitempty"`
	Retry  bool             `json:"retryable,omitempty"`
	TookMs int64            `json:"tookMs"`
}

func main() {
	server := flag.String("server", envOr("SCAN_API_URL", "http://localhost:3000"), "scan API base url")
	parallel := flag.Bool("parallel", false, "upload all files concurrently")
	attempts := flag.Int("attempts", client.DefaultMaxAttempts, "upload attempts per file")
	poll := flag.Duration("poll", client.DefaultPollInterval, "status poll interval")
	maxWait := flag.Duration("max-wait", client.DefaultMaxWait, "give up waiting for a job after this long")
	verbose := flag.Bool("v", false, "log status changes to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: scanctl [flags] receipt.jpg [more.png ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	c, err := client.New(client.Options{
		BaseURL:      *server,
		MaxAttempts:  *attempts,
		PollInterval: *poll,
		MaxWait:      *maxWait,
		Logger:       &logger,
		OnStatus: func(jobID string, st client.Status) {
			logger.Debug().Str("job_id", jobID).Str("status", string(st)).Msg("status")
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files := flag.Args()
	results := make([]fileResult, len(files))
	if *parallel {
		var wg sync.WaitGroup
		for i, f := range files {
			wg.Add(1)
			go func(i int, f string) {
				defer wg.Done()
				results[i] = scanFile(ctx, c, f)
			}(i, f)
		}
		wg.Wait()
	} else {
		for i, f := range files {
			results[i] = scanFile(ctx, c, f)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	for _, r := range results {
		if r.Error != "" {
			os.Exit(1)
		}
	}
}

func scanFile(ctx context.Context, c *client.Client, path string) fileResult {
	start := time.Now()
	res := fileResult{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		res.TookMs = time.Since(start).Milliseconds()
		return res
	}

	id, err := c.Upload(ctx, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data)
	if err == nil {
		res.JobID = id
		var view *model.ScanJobView
		view, err = c.Wait(ctx, id)
		if err == nil && view.Status == model.ScanStatusFailed && view.Error != nil {
			err = &client.APIError{Code: view.Error.Code, Message: view.Error.Message, Retryable: view.Error.Retryable}
		}
		if err == nil {
			res.Items = view.Result
			for _, it := range view.Result {
				res.Total += it.Price
			}
			res.Total = math.Round(res.Total*100) / 100
		}
	}
	if err != nil {
		res.Error = err.Error()
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			res.Code = apiErr.Code
			res.Error = apiErr.Message
			res.Retry = apiErr.Retryable
		}
	}
	res.TookMs = time.Since(start).Milliseconds()
	return res
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
