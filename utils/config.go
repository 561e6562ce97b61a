package utils

import (
	"encoding/json"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skhatri/esurldump/model"
	"github.com/skhatri/esurldump/tasks/elastic"
	"github.com/spf13/pflag"
)

const (
	defaultNum    = 10
	defaultPrefix = "/"
	defaultPort   = "9200"
	defaultRegion = "ap-southeast-1"
)

// ErrUsage marks errors caused by bad command-line input. Callers print help
// and exit non-zero without contacting Elasticsearch.
var ErrUsage = errors.New("usage error")

// Options holds raw flag values before resolution.
type Options struct {
	Partner  string
	Output   string
	Num      int
	Prefix   string
	Index    string
	Ignore   string
	User     string
	Password string
	Config   string
	S3Bucket string
	S3Key    string
	S3Region string
	Verbose  bool

	PageSize  int
	KeepAlive time.Duration

	flags *pflag.FlagSet
}

func RegisterFlags(fs *pflag.FlagSet) *Options {
	opts := &Options{flags: fs}
	fs.StringVarP(&opts.Partner, "partner", "p", "", "partner_code to dump, all if not specified")
	fs.StringVarP(&opts.Output, "output", "o", "", "the output file, console(stdout) if not specified")
	fs.IntVarP(&opts.Num, "num", "n", defaultNum, "the max num to retrieve")
	fs.StringVarP(&opts.Prefix, "prefix", "r", defaultPrefix, "the url prefix")
	fs.StringVarP(&opts.Index, "index", "i", "", "index to query from, default(forseti-yyyymmdd)")
	fs.StringVar(&opts.Ignore, "ignore", "", "ignore the fields, separated by comma(,)")
	fs.StringVarP(&opts.User, "user", "u", "", "elasticsearch username")
	fs.StringVar(&opts.Password, "password", "", "elasticsearch password, file:<path> reads it from a file")
	fs.StringVarP(&opts.Config, "config", "c", "", "json config file, $CONFIG_FILE if not specified")
	fs.StringVar(&opts.S3Bucket, "s3-bucket", "", "upload the output file to this bucket")
	fs.StringVar(&opts.S3Key, "s3-key", "", "object key for the upload, $date expands to yyyy-mm-dd")
	fs.StringVar(&opts.S3Region, "s3-region", "", "region of the upload bucket (default "+defaultRegion+")")
	fs.IntVar(&opts.PageSize, "page-size", elastic.DefaultPageSize, "hits fetched per scroll request")
	fs.DurationVar(&opts.KeepAlive, "keep-alive", elastic.DefaultKeepAlive, "how long the cluster keeps the scroll context between pages")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "log skipped documents")
	return opts
}

func (o *Options) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

// ParseArgs parses argv (without the program name) on a fresh flag set,
// loads the config file it names and resolves the result.
func ParseArgs(argv []string, now time.Time) (model.RunConfig, error) {
	fs := pflag.NewFlagSet("esurldump", pflag.ContinueOnError)
	fs.SetOutput(new(strings.Builder))
	opts := RegisterFlags(fs)
	if err := fs.Parse(argv); err != nil {
		return model.RunConfig{}, errors.Mark(err, ErrUsage)
	}
	fileCfg, err := LoadFileConfig(opts, os.Getenv)
	if err != nil {
		return model.RunConfig{}, err
	}
	return Resolve(opts, fs.Args(), fileCfg, now)
}

// LoadFileConfig reads the file named by --config, falling back to
// $CONFIG_FILE. Without either it returns an empty FileConfig.
func LoadFileConfig(opts *Options, getenv func(string) string) (model.FileConfig, error) {
	path := opts.Config
	if path == "" && getenv != nil {
		path = getenv("CONFIG_FILE")
	}
	if path == "" {
		return model.FileConfig{}, nil
	}
	return Load(path)
}

// Resolve turns parsed flags, positional args and the loaded config file into
// a RunConfig. Flags win over file values. It does no I/O.
func Resolve(opts *Options, args []string, fileCfg model.FileConfig, now time.Time) (model.RunConfig, error) {
	if len(args) != 1 {
		return model.RunConfig{}, errors.Wrapf(ErrUsage, "expected exactly one <es_host>, got %d", len(args))
	}
	if opts.Num < 0 {
		return model.RunConfig{}, errors.Wrapf(ErrUsage, "num must not be negative, got %d", opts.Num)
	}
	if opts.PageSize <= 0 {
		return model.RunConfig{}, errors.Wrapf(ErrUsage, "page-size must be positive, got %d", opts.PageSize)
	}
	if opts.KeepAlive < time.Millisecond {
		return model.RunConfig{}, errors.Wrapf(ErrUsage, "keep-alive must be at least 1ms, got %s", opts.KeepAlive)
	}

	host, err := NormalizeHost(args[0])
	if err != nil {
		return model.RunConfig{}, errors.Mark(err, ErrUsage)
	}

	cfg := model.RunConfig{
		ElasticSearch: model.ElasticSearchConfig{
			Host:     host,
			Index:    opts.Index,
			Username: fileCfg.ElasticSearch.Username,
			Password: fileCfg.ElasticSearch.Password,
		},
		Output:  opts.Output,
		Num:     opts.Num,
		Prefix:  opts.Prefix,
		Ignore:  splitIgnore(opts.Ignore),
		Verbose: opts.Verbose,
		Scroll: model.ScrollConfig{
			PageSize:  opts.PageSize,
			KeepAlive: opts.KeepAlive,
		},
		S3: fileCfg.S3,
	}
	if cfg.ElasticSearch.Index == "" {
		cfg.ElasticSearch.Index = DefaultIndexName(now)
	}
	if opts.changed("partner") {
		partner := opts.Partner
		cfg.Partner = &partner
	}
	if opts.User != "" {
		user := opts.User
		cfg.ElasticSearch.Username = &user
	}
	if opts.Password != "" {
		password := opts.Password
		cfg.ElasticSearch.Password = &password
	}
	if opts.S3Bucket != "" {
		cfg.S3.Bucket = opts.S3Bucket
	}
	if opts.S3Key != "" {
		cfg.S3.Key = opts.S3Key
	}
	if opts.S3Region != "" {
		cfg.S3.Region = opts.S3Region
	}
	if cfg.S3.Bucket != "" {
		if cfg.Output == "" {
			return model.RunConfig{}, errors.Wrap(ErrUsage, "s3 upload requires --output")
		}
		if cfg.S3.Key == "" {
			cfg.S3.Key = cfg.ElasticSearch.Index + ".txt"
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = defaultRegion
		}
	}
	return cfg, nil
}

// DefaultIndexName returns the daily index name for now in local time.
func DefaultIndexName(now time.Time) string {
	return now.Local().Format("forseti-20060102")
}

// NormalizeHost accepts host, host:port or a full URL.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("es_host must not be empty")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", errors.Wrapf(err, "invalid es_host %q", host)
	}
	if u.Host == "" {
		return "", errors.Newf("invalid es_host %q", host)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	return u.String(), nil
}

// Load reads a JSON config file.
func Load(path string) (model.FileConfig, error) {
	var cfg model.FileConfig
	file, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "open config file %s", path)
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode config file %s", path)
	}
	return cfg, nil
}

func splitIgnore(value string) map[string]struct{} {
	ignored := make(map[string]struct{})
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field != "" {
			ignored[field] = struct{}{}
		}
	}
	return ignored
}
