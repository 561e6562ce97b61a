package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/skhatri/esurldump/model"
	"github.com/skhatri/esurldump/tasks/dump"
	"github.com/skhatri/esurldump/tasks/elastic"
	"github.com/skhatri/esurldump/tasks/emit"
	"github.com/skhatri/esurldump/tasks/replay"
	"github.com/skhatri/esurldump/tasks/s3client"
	"github.com/skhatri/esurldump/tasks/transform"
	"github.com/skhatri/esurldump/utils"
	"github.com/spf13/cobra"
)

// sourceOpener connects to the cluster and prepares the hit stream. The
// returned func releases it.
type sourceOpener func(ctx context.Context, cfg model.RunConfig) (dump.HitSource, func(), error)

func openElastic(ctx context.Context, cfg model.RunConfig) (dump.HitSource, func(), error) {
	client, err := elastic.NewElasticClient(cfg.ElasticSearch)
	if err != nil {
		return nil, nil, err
	}
	scroller, err := elastic.Scan(client, elastic.BuildQuery(cfg.Partner), cfg.ElasticSearch.Index,
		elastic.WithPageSize(cfg.Scroll.PageSize),
		elastic.WithKeepAlive(cfg.Scroll.KeepAlive))
	if err != nil {
		return nil, nil, err
	}
	// the first search runs even for --num 0 so an unreachable cluster fails the run
	if err := scroller.Open(ctx); err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := scroller.Close(context.Background()); err != nil {
			logrus.WithError(err).Warn("could not clear scroll")
		}
	}
	return scroller, release, nil
}

func newRootCmd(stdout io.Writer, open sourceOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "esurldump [options] <es_host>",
		Short: "Dump activity documents from elasticsearch as request urls",
		Long: `Scan a forseti index for activity documents and print each one as
<prefix>?<field>=<value>&..., with camelCase field names turned into
snake_case and eventOccurTime rendered as local time.`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	opts := utils.RegisterFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		fileCfg, err := utils.LoadFileConfig(opts, os.Getenv)
		if err != nil {
			cmd.SilenceUsage = true
			return err
		}
		cfg, err := utils.Resolve(opts, args, fileCfg, time.Now())
		if err != nil {
			if !errors.Is(err, utils.ErrUsage) {
				cmd.SilenceUsage = true
			}
			return err
		}
		cmd.SilenceUsage = true
		configureLogging(cfg.Verbose)
		return run(cmd.Context(), cfg, stdout, open)
	}
	cmd.AddCommand(newReplayCmd(stdout))
	return cmd
}

func newReplayCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [options] <url_file>",
		Short: "Send the urls of a dump file to a server and summarise the responses",
		Long: `Read one url per line, prefix relative ones with --base, and send
them with --concurrency workers until --requests were sent or --duration
elapsed. Prints latency, status code and error distributions.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
	}
	opts := replay.RegisterFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := opts.Config()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		configureLogging(false)

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open url file")
		}
		urls, err := replay.LoadURLs(f, opts.Base)
		f.Close()
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"urls":        len(urls),
			"requests":    cfg.Requests,
			"concurrency": cfg.Concurrency,
		}).Info("replaying")
		report, err := replay.Run(cmd.Context(), &http.Client{Timeout: opts.Timeout}, urls, cfg)
		if err != nil {
			return err
		}
		return report.Print(stdout)
	}
	return cmd
}

func run(ctx context.Context, cfg model.RunConfig, stdout io.Writer, open sourceOpener) error {
	out := stdout
	var outFile *os.File
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return errors.Wrap(err, "could not create file for writing")
		}
		defer f.Close()
		outFile = f
		out = f
	}

	source, release, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	log := logrus.WithFields(logrus.Fields{
		"host":  cfg.ElasticSearch.Host,
		"index": cfg.ElasticSearch.Index,
	})
	if cfg.Partner != nil {
		log = log.WithField("partner", *cfg.Partner)
	}
	log.Info("scanning index")

	start := time.Now()
	emitter := emit.NewEmitter(cfg.Prefix, out)
	stats, err := dump.Run(ctx, source, transform.New(cfg.Ignored, nil), emitter, cfg.Num)
	if flushErr := emitter.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"emitted": stats.Emitted,
		"skipped": stats.Skipped,
		"took":    time.Since(start).Round(time.Millisecond),
	}).Info("dump finished")

	if outFile == nil {
		return nil
	}
	if err := outFile.Close(); err != nil {
		return errors.Wrapf(err, "close %s", cfg.Output)
	}
	return s3client.UploadToS3(ctx, cfg.Output, cfg.S3)
}

func configureLogging(verbose bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, openElastic).ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("esurldump failed")
		stop()
		os.Exit(1)
	}
}
