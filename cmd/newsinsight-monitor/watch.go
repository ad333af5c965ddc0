package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/httpclient"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/state"
	"github.com/choisimo/newsinsight-monitor/internal/models"
	"github.com/choisimo/newsinsight-monitor/internal/stream"
)

// runWatch follows one job's event stream from the terminal.
// Either follow an existing job:
//
//	newsinsight-monitor watch <job-id>
//
// or start a new one and follow it:
//
//	newsinsight-monitor watch -kind search -params '{"query":"..."}'
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	kindFlag := fs.String("kind", "", "Start a new job of this kind (search, deep-analysis, training)")
	paramsFlag := fs.String("params", "", "JSON parameters for the new job")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: newsinsight-monitor watch <job-id> | watch -kind <kind> [-params <json>]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	client := httpclient.NewClient(config.Backend.APIKey,
		httpclient.WithBaseURL(config.Backend.BaseURL),
		httpclient.WithLogger(logger),
		httpclient.WithTimeout(common.Duration(config.Backend.RequestTimeout, 30*time.Second)),
	)

	var record *models.JobRecord
	switch {
	case *kindFlag != "":
		kind := models.JobKind(*kindFlag)
		if !models.IsValidJobKind(kind) {
			fmt.Fprintf(os.Stderr, "Invalid job kind: %s\n", *kindFlag)
			os.Exit(1)
		}

		var params map[string]interface{}
		if *paramsFlag != "" {
			if err := json.Unmarshal([]byte(*paramsFlag), &params); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid -params JSON: %v\n", err)
				os.Exit(1)
			}
		}

		started, err := client.StartJob(ctx, interfaces.StartJobRequest{Kind: kind, Params: params})
		if err != nil {
			logger.Fatal().Err(err).Str("kind", string(kind)).Msg("Failed to start job")
		}
		record = started
		fmt.Printf("Started %s job %s\n", kind, record.ID)

	case fs.NArg() >= 1:
		jobID := fs.Arg(0)
		record = models.NewJobRecord(jobID, models.JobKindSearch)
		// Seed from an authoritative fetch when the backend knows the job
		if fetched, err := client.GetJob(ctx, jobID); err == nil {
			record = fetched
		}

	default:
		fs.Usage()
		os.Exit(1)
	}

	if record.IsTerminal() {
		printRecord(record)
		return
	}

	adapter := stream.NewAdapter(stream.Config{
		BaseURL:          config.Backend.BaseURL,
		APIKey:           config.Backend.APIKey,
		MaxReconnects:    config.Stream.MaxReconnects,
		ReconnectBackoff: common.Duration(config.Stream.ReconnectBackoff, stream.DefaultReconnectBackoff),
		Logger:           logger,
	})

	handle, err := adapter.Open(ctx, record.ID)
	if err != nil {
		logger.Fatal().Err(err).Str("job_id", record.ID).Msg("Failed to open event stream")
	}
	defer handle.Close()

	fmt.Printf("Watching job %s (%s) - Ctrl+C to stop\n", record.ID, record.Kind)

	idleWindow := common.Duration(config.Stream.IdleTimeout, 5*time.Minute)
	idle := time.NewTimer(idleWindow)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-handle.Events():
			if !ok {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleWindow)

			next := state.Reduce(record, event)
			if next == record {
				continue
			}
			record = next
			printRecord(record)
			if record.IsTerminal() {
				return
			}
		case err := <-handle.Err():
			fmt.Fprintf(os.Stderr, "Stream error: %v\n", err)
			return
		case <-idle.C:
			fmt.Fprintln(os.Stderr, "No events received, giving up")
			return
		}
	}
}

func printRecord(record *models.JobRecord) {
	line, err := json.Marshal(record)
	if err != nil {
		fmt.Printf("%s %s %.0f%%\n", record.ID, record.Status, record.Progress)
		return
	}
	fmt.Println(string(line))
}
