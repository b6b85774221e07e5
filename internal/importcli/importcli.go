// Package importcli implements the sheetsync-import command: a one-shot
// import of a file, SQL query or MongoDB collection into bitable tables.
package importcli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	"github.com/okian/sheetsync/internal/adapters/source"
	service "github.com/okian/sheetsync/internal/app"
	"github.com/okian/sheetsync/internal/config"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// Environment fallbacks for the credentials.
const (
	EnvAppID     = config.EnvPrefix + "APP_ID"
	EnvAppSecret = config.EnvPrefix + "APP_SECRET"
)

// ErrUsage is returned for invalid flag combinations.
var ErrUsage = errors.New("usage")

// Service is the part of the sync service the command drives.
type Service interface {
	Plan(ctx context.Context, req service.PlanRequest) (service.PlanResult, error)
	Import(ctx context.Context, req model.SyncRequest) (repository.Run, error)
	PrepareUpload(ctx context.Context, name string, data []byte, sheet string) (model.Dataset, model.FileInfo, error)
}

// Options are the parsed command line.
type Options struct {
	AppID     string
	AppSecret string
	AppToken  string
	Link      string
	Tables    []string

	Source source.Spec

	DryRun        bool
	JSON          bool
	RefreshSchema bool
	Timeout       time.Duration
	ChunkSize     int
}

// Parse reads argv into Options. Flag errors are printed to stderr.
func Parse(argv []string, stderr io.Writer) (Options, error) {
	fs := flag.NewFlagSet("sheetsync-import", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		o      Options
		tables string
	)
	fs.StringVar(&o.AppID, "app-id", os.Getenv(EnvAppID), "application id (env "+EnvAppID+")")
	fs.StringVar(&o.AppSecret, "app-secret", os.Getenv(EnvAppSecret), "application secret (env "+EnvAppSecret+")")
	fs.StringVar(&o.AppToken, "app-token", "", "target app token")
	fs.StringVar(&o.Link, "link", "", "shared base link, instead of -app-token")
	fs.StringVar(&tables, "table", "", "comma separated table ids; first table of the app when empty")

	fs.StringVar(&o.Source.Path, "file", "", "csv, tsv or xlsx file to import")
	fs.StringVar(&o.Source.Sheet, "sheet", "", "xlsx sheet name")
	fs.StringVar(&o.Source.Driver, "sql-driver", "", "sqlite, postgres, mysql or sqlserver")
	fs.StringVar(&o.Source.DSN, "sql-dsn", "", "sql data source name")
	fs.StringVar(&o.Source.Query, "sql-query", "", "select statement producing the rows")
	fs.StringVar(&o.Source.URI, "mongo-uri", "", "mongodb connection uri")
	fs.StringVar(&o.Source.Database, "mongo-db", "", "mongodb database")
	fs.StringVar(&o.Source.Collection, "mongo-collection", "", "mongodb collection")
	fs.StringVar(&o.Source.Filter, "mongo-filter", "", "extended json filter")
	fs.Int64Var(&o.Source.Limit, "mongo-limit", 0, "maximum documents")

	fs.BoolVar(&o.DryRun, "dry-run", false, "print the column mapping without writing")
	fs.BoolVar(&o.JSON, "json", false, "print the summary as json")
	fs.BoolVar(&o.RefreshSchema, "refresh", false, "bypass the schema cache")
	fs.DurationVar(&o.Timeout, "timeout", 10*time.Minute, "overall deadline")
	fs.IntVar(&o.ChunkSize, "chunk-size", 0, "records per batch call (1..500); config default when 0")

	if err := fs.Parse(argv); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}
	for _, t := range strings.Split(tables, ",") {
		if t = strings.TrimSpace(t); t != "" {
			o.Tables = append(o.Tables, t)
		}
	}

	switch {
	case o.Source.Path != "":
		o.Source.Kind = source.KindFile
	case o.Source.Query != "":
		o.Source.Kind = source.KindSQL
	case o.Source.URI != "":
		o.Source.Kind = source.KindMongo
	default:
		return Options{}, fmt.Errorf("%w: one of -file, -sql-query or -mongo-uri is required", ErrUsage)
	}
	if o.AppToken == "" && o.Link == "" {
		return Options{}, fmt.Errorf("%w: -app-token or -link is required", ErrUsage)
	}
	if o.ChunkSize < 0 || o.ChunkSize > 500 {
		return Options{}, fmt.Errorf("%w: -chunk-size %d outside 1..500", ErrUsage, o.ChunkSize)
	}
	return o, nil
}

// Execute runs the command and returns an exit code.
func Execute(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	opts, err := Parse(argv, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return ExitUsage
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitFailed
	}
	svc, err := newService(cfg, opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitFailed
	}
	return NewCommand(svc, stdout, stderr).Run(ctx, opts)
}

func newService(cfg *config.Config, opts Options) (*service.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clientOpts := []bitable.Option{
		bitable.WithBaseURL(cfg.BaseURL),
		bitable.WithTimeout(cfg.RequestTimeout),
		bitable.WithMaxRetries(cfg.MaxRetries),
		bitable.WithRetryDelay(cfg.RetryDelay),
		bitable.WithCacheDisabled(),
	}
	chunk := cfg.ChunkSize
	if opts.ChunkSize > 0 {
		chunk = opts.ChunkSize
	}
	return service.New(
		service.WithRemote(bitable.New(clientOpts...)),
		service.WithLocation(loc),
		service.WithChunkSize(chunk),
		service.WithTableParallelism(cfg.TableParallelism),
	), nil
}

// Command runs one import against a Service.
type Command struct {
	svc    Service
	open   func(source.Spec) (source.Reader, error)
	out    io.Writer
	errOut io.Writer
	logger logger.Logger
}

// NewCommand creates a command writing its summary to out.
func NewCommand(svc Service, out, errOut io.Writer) *Command {
	return &Command{
		svc:    svc,
		open:   source.New,
		out:    out,
		errOut: errOut,
		logger: logger.Get().Named("import"),
	}
}

// Run reads the source and either plans or imports it.
func (c *Command) Run(ctx context.Context, opts Options) int {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	appToken, tables := opts.AppToken, opts.Tables
	if opts.Link != "" {
		ref, err := bitable.ParseLink(opts.Link)
		if err != nil {
			fmt.Fprintln(c.errOut, err)
			return ExitUsage
		}
		appToken = ref.AppToken
		if len(tables) == 0 && ref.TableID != "" {
			tables = []string{ref.TableID}
		}
	}

	dataset, file, err := c.read(ctx, opts.Source)
	if err != nil {
		fmt.Fprintln(c.errOut, err)
		return ExitFailed
	}
	c.logger.Info(ctx, "source read",
		logger.String("source", opts.Source.Name()),
		logger.Int("columns", len(dataset.Columns)),
		logger.Int("rows", len(dataset.Rows)),
	)

	creds := model.Credentials{AppID: opts.AppID, AppSecret: opts.AppSecret}
	if opts.DryRun {
		return c.plan(ctx, creds, appToken, tables, dataset, file, opts)
	}

	run, err := c.svc.Import(ctx, model.SyncRequest{
		Credentials:   creds,
		AppToken:      appToken,
		TableIDs:      tables,
		Dataset:       dataset,
		File:          file,
		RefreshSchema: opts.RefreshSchema,
		Source:        "cli:" + opts.Source.Name(),
	})
	if err != nil {
		fmt.Fprintln(c.errOut, err)
		return ExitFailed
	}
	if opts.JSON {
		c.printJSON(run)
	} else {
		c.printRun(run)
	}
	if run.Status != repository.StatusSucceeded {
		return ExitFailed
	}
	return ExitOK
}

// read loads the dataset. Files go through PrepareUpload so the metadata
// fields are filled as they are for uploads.
func (c *Command) read(ctx context.Context, spec source.Spec) (model.Dataset, *model.FileInfo, error) {
	if spec.Kind == source.KindFile {
		data, err := os.ReadFile(spec.Path)
		if err != nil {
			return model.Dataset{}, nil, fmt.Errorf("read %s: %w", spec.Path, err)
		}
		ds, info, err := c.svc.PrepareUpload(ctx, filepath.Base(spec.Path), data, spec.Sheet)
		if err != nil {
			return model.Dataset{}, nil, err
		}
		return ds, &info, nil
	}

	r, err := c.open(spec)
	if err != nil {
		return model.Dataset{}, nil, err
	}
	ds, err := r.Read(ctx)
	if err != nil {
		return model.Dataset{}, nil, fmt.Errorf("read %s: %w", spec.Name(), err)
	}
	return ds, nil, nil
}

func (c *Command) plan(ctx context.Context, creds model.Credentials, appToken string, tables []string, ds model.Dataset, file *model.FileInfo, opts Options) int {
	if len(tables) == 0 {
		tables = []string{""}
	}
	plans := make([]service.PlanResult, 0, len(tables))
	for _, t := range tables {
		p, err := c.svc.Plan(ctx, service.PlanRequest{
			Credentials:   creds,
			AppToken:      appToken,
			TableID:       t,
			Columns:       ds.Columns,
			File:          file,
			RefreshSchema: opts.RefreshSchema,
		})
		if err != nil {
			fmt.Fprintln(c.errOut, err)
			return ExitFailed
		}
		plans = append(plans, p)
	}

	if opts.JSON {
		c.printJSON(plans)
		return ExitOK
	}
	for _, p := range plans {
		c.printPlan(p)
	}
	return ExitOK
}

func (c *Command) printJSON(v any) {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (c *Command) printPlan(p service.PlanResult) {
	fmt.Fprintf(c.out, "table %s: %d of %d columns matched\n", p.TableID, p.Matched, len(p.Matches))
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tFIELD\tSIMILARITY")
	for _, m := range p.Matches {
		field := "-"
		if m.Matched {
			field = m.TargetField
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\n", m.SourceColumn, field, m.Similarity)
	}
	_ = tw.Flush()
	if p.File != nil {
		md := p.Metadata
		fmt.Fprintf(c.out, "metadata: name=%q size=%q type=%q url=%q time=%q\n",
			md.FileName, md.FileSize, md.FileType, md.FileURL, md.UploadTime)
	}
}

func (c *Command) printRun(run repository.Run) {
	fmt.Fprintf(c.out, "run %s %s\n", run.ID, run.Status)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tMATCHED\tSYNCED\tFAILED\tDROPPED\tFALLBACKS\tCALLS\tMESSAGE")
	for _, r := range run.Results {
		msg := r.Result.Message
		if r.Error != "" {
			msg = r.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.TableID, r.MatchedColumns, r.Result.SyncedRowCount, r.Result.FailedRowCount,
			r.Result.DroppedRowCount, r.Result.FallbackCount, r.Result.APICallCount, msg)
	}
	_ = tw.Flush()
	if run.Error != "" {
		fmt.Fprintln(c.out, "error:", run.Error)
	}
}
